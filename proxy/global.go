package proxy

import (
	"fmt"
	"strings"

	"golang.org/x/net/context"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

// Global is the root façade over PHP global state: constants, variables
// and functions, replacing a dynamic "g" object with an explicit builder.
type Global struct {
	d *dispatch.Dispatcher
}

// NewGlobal binds a Global façade to a dispatcher.
func NewGlobal(d *dispatch.Dispatcher) *Global { return &Global{d: d} }

// Const reads a namespace-qualified constant, emitting CONST.
func (g *Global) Const(ctx context.Context, path ...string) (any, error) {
	for _, c := range path {
		if err := validateClassComponent(c); err != nil {
			return nil, err
		}
	}
	return g.d.Do(ctx, protocol.OpConst, joinBackslash(path))
}

// Var starts a path rooted at global variable name (without its leading
// $ component convention).
func (g *Global) Var(name string) *VarPath {
	return &VarPath{d: g.d, name: name}
}

// Fn starts a call path rooted at a global function or a dotted static
// method reference.
func (g *Global) Fn(name string) *FnCall {
	return &FnCall{d: g.d, name: name}
}

// Cls starts a class façade for static member access and construction.
func (g *Global) Cls(name string) *ClassPath {
	return &ClassPath{d: g.d, name: name}
}

// NObjects asks PHP how many handles it currently holds live.
func (g *Global) NObjects(ctx context.Context) (int64, error) {
	v, err := g.d.Do(ctx, protocol.OpNObjects, "")
	if err != nil {
		return 0, err
	}
	return asInt64(v), nil
}

// PopFrame sends POP_FRAME with marker m; PHP destructs every handle it
// allocated after m.
func (g *Global) PopFrame(ctx context.Context, marker int32) error {
	_, err := g.d.Do(ctx, protocol.OpPopFrame, fmt.Sprintf("%d", marker))
	return err
}

// EndStdout asks PHP to emit the stdout sentinel inline on its own
// standard output, closing the current stdout multiplexer view.
func (g *Global) EndStdout(ctx context.Context) error {
	_, err := g.d.Do(ctx, protocol.OpEndStdout, "")
	return err
}

// Eval, Echo, Include, IncludeOnce, Require, RequireOnce dispatch the
// dedicated script-execution opcodes.
func (g *Global) Eval(ctx context.Context, code string) (any, error) {
	payload, err := encodeJSON(code)
	if err != nil {
		return nil, err
	}
	return g.d.Do(ctx, protocol.OpCallEval, payload)
}

func (g *Global) Echo(ctx context.Context, args ...any) error {
	payload, err := encodeArgsReg(g.d, args)
	if err != nil {
		return err
	}
	_, err = g.d.Do(ctx, protocol.OpCallEcho, payload)
	return err
}

func (g *Global) Include(ctx context.Context, path string) (any, error) {
	return g.runPathOp(ctx, protocol.OpCallInclude, path)
}

func (g *Global) IncludeOnce(ctx context.Context, path string) (any, error) {
	return g.runPathOp(ctx, protocol.OpCallIncludeOnce, path)
}

func (g *Global) Require(ctx context.Context, path string) (any, error) {
	return g.runPathOp(ctx, protocol.OpCallRequire, path)
}

func (g *Global) RequireOnce(ctx context.Context, path string) (any, error) {
	return g.runPathOp(ctx, protocol.OpCallRequireOnce, path)
}

func (g *Global) runPathOp(ctx context.Context, op protocol.ForwardOp, path string) (any, error) {
	payload, err := encodeJSON(path)
	if err != nil {
		return nil, err
	}
	return g.d.Do(ctx, op, payload)
}

func encodeArgsReg(d *dispatch.Dispatcher, args []any) (string, error) {
	return encodeArgs(d.Registry(), args)
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}

// dedicatedCallNames lists the one-component function names that ride a
// dedicated opcode instead of generic CALL, for Fn terminals.
var dedicatedCallNames = map[string]protocol.ForwardOp{
	"eval":          protocol.OpCallEval,
	"echo":          protocol.OpCallEcho,
	"include":       protocol.OpCallInclude,
	"include_once":  protocol.OpCallIncludeOnce,
	"require":       protocol.OpCallRequire,
	"require_once":  protocol.OpCallRequireOnce,
}

func dedicatedOpcode(name string) (protocol.ForwardOp, bool) {
	op, ok := dedicatedCallNames[strings.ToLower(name)]
	return op, ok
}
