package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/roadrunner-server/phpbridge/internal/handle"
	"github.com/roadrunner-server/phpbridge/internal/marshal"
	"github.com/roadrunner-server/phpbridge/internal/phperr"
	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

const op = errors.Op("dispatch")

type wireOwnerKey struct{}

// Undefined is the Go value Do returns for the JSON-undefined sentinel
// (payload_length == -1), distinct from a JSON null.
type Undefined struct{}

// Dispatcher drives one bridge's control channel: writing forward
// requests, reading results, and servicing reverse requests by invoking
// HostOps and writing DATA replies. At most one write and one read may be
// in flight on the channel at a time; wireMu enforces that, and reverse
// requests are served by recursive, same-goroutine calls into Do rather
// than a second lock acquisition.
type Dispatcher struct {
	rw  io.ReadWriter
	reg *handle.Registry
	ops HostOps
	log *zap.Logger

	wireMu sync.Mutex
	level  atomic.Int32
}

// New builds a Dispatcher bound to rw, reg and ops. ops may be nil; in
// that case reverse requests fail with an interpreter-error instead of
// panicking, which is useful for bridges that never expose host symbols.
func New(rw io.ReadWriter, reg *handle.Registry, ops HostOps, log *zap.Logger) *Dispatcher {
	return &Dispatcher{rw: rw, reg: reg, ops: ops, log: log}
}

// Registry exposes the bound handle registry so callers (the proxy layer)
// can pre-register handle-eligible argument values before encoding them
// into a request payload.
func (d *Dispatcher) Registry() *handle.Registry { return d.reg }

// Level reports the current reverse-request re-entry depth (0 at the top
// level), exposed for metrics and diagnostics.
func (d *Dispatcher) Level() int32 { return d.level.Load() }

// Do writes a forward request and blocks until its result arrives,
// transparently servicing any reverse requests PHP issues while it does.
func (d *Dispatcher) Do(ctx context.Context, code protocol.ForwardOp, payload string) (any, error) {
	owns := ctx.Value(wireOwnerKey{}) == nil
	if owns {
		d.wireMu.Lock()
		defer d.wireMu.Unlock()
		ctx = context.WithValue(ctx, wireOwnerKey{}, struct{}{})
	}

	start := time.Now()
	result, err := d.do(ctx, code, payload)
	d.logOp(code, start, err)
	return result, err
}

func (d *Dispatcher) do(ctx context.Context, code protocol.ForwardOp, payload string) (any, error) {
	if err := protocol.WriteRequest(d.rw, code, payload); err != nil {
		return nil, errors.E(op, err)
	}
	return d.readUntilResult(ctx)
}

func (d *Dispatcher) logOp(code protocol.ForwardOp, start time.Time, err error) {
	if d.log == nil {
		return
	}
	if err != nil {
		d.log.Error("forward operation failed", zap.Stringer("opcode", code), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	d.log.Debug("forward operation completed", zap.Stringer("opcode", code), zap.Duration("elapsed", time.Since(start)))
}

func (d *Dispatcher) readUntilResult(ctx context.Context) (any, error) {
	for {
		reply, err := protocol.ReadReply(d.rw)
		if err != nil {
			return nil, errors.E(op, &phperr.InterpreterExitError{ExitCode: phperr.UnknownExitCode})
		}

		switch reply.Kind {
		case protocol.KindNull:
			return nil, nil
		case protocol.KindUndefined:
			return Undefined{}, nil
		case protocol.KindResult:
			return marshal.Decode(d.reg, reply.Payload)
		case protocol.KindReverseRequest:
			served, terminalErr := d.serveReverse(ctx, reply)
			if served && terminalErr != nil {
				return nil, terminalErr
			}
			// DATA has been written; loop for the next record, which may
			// be another reverse request or the eventual result.
			continue
		default:
			return nil, errors.E(op, errors.Str("unknown reply kind"))
		}
	}
}

// serveReverse executes one reverse request. If it is a terminal ERROR
// record, served is true and err carries the interpreter error to hand
// back to the original caller without writing a DATA frame. Otherwise a
// DATA frame is written and (false, nil) is returned so the caller keeps
// reading.
func (d *Dispatcher) serveReverse(ctx context.Context, reply protocol.Reply) (bool, error) {
	d.level.Add(1)
	defer d.level.Add(-1)

	start := time.Now()
	served, err, rop := d.doServeReverse(ctx, reply)
	if d.log != nil {
		if err != nil {
			d.log.Error("reverse request failed", zap.Stringer("opcode", rop), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		} else {
			d.log.Debug("reverse request serviced", zap.Stringer("opcode", rop), zap.Duration("elapsed", time.Since(start)))
		}
	}
	return served, err
}

func (d *Dispatcher) doServeReverse(ctx context.Context, reply protocol.Reply) (bool, error, protocol.ReverseOp) {
	var args []any
	if err := json.Unmarshal(reply.Payload, &args); err != nil || len(args) == 0 {
		d.writeError(fmt.Sprintf("malformed reverse request payload: %v", err))
		return false, nil, 0
	}
	opcodeF, ok := args[0].(float64)
	if !ok {
		d.writeError("reverse request payload missing opcode")
		return false, nil, 0
	}
	rop := protocol.ReverseOp(int32(opcodeF))
	args = args[1:]

	if rop == protocol.ROpError {
		return true, d.buildInterpreterError(args), rop
	}

	result, flags, callErr := d.execute(ctx, rop, reply.HandleID, args)
	if callErr != nil {
		d.writeError(callErr.Error())
		return false, nil, rop
	}
	d.writeResult(flags, result)
	return false, nil, rop
}

func (d *Dispatcher) buildInterpreterError(args []any) error {
	file, _ := stringArg(args, 0)
	line, _ := intArg(args, 1)
	message, _ := stringArg(args, 2)
	trace, _ := stringArg(args, 3)
	return errors.E(op, phperr.NewInterpreterError(file, line, message, trace, nil))
}

// execute runs the host operation rop names and folds its result into a
// (flags, body-string) pair ready for a DATA reply.
func (d *Dispatcher) execute(ctx context.Context, rop protocol.ReverseOp, targetID int32, args []any) (string, protocol.DataFlag, error) {
	if d.ops == nil {
		return "", 0, errors.Str("no host operations registered")
	}

	target, lookupErr := d.targetFor(rop, targetID)
	if lookupErr != nil {
		return "", 0, lookupErr
	}

	switch rop {
	case protocol.ROpGetClass:
		name, _ := stringArg(args, 0)
		v, ok := d.ops.Resolve(name)
		if !ok {
			return "", 0, errors.Str(fmt.Sprintf("unknown symbol %q", name))
		}
		return d.boxHandle(v)

	case protocol.ROpConstruct:
		name, _ := stringArg(args, 0)
		ctorArgs, _ := sliceArg(args, 1)
		v, err := d.ops.Construct(name, d.reviveArgs(ctorArgs))
		if err != nil {
			return "", 0, err
		}
		return d.boxHandle(v)

	case protocol.ROpDestruct:
		d.reg.Release(ctx, targetID)
		return "", 0, nil

	case protocol.ROpClassGet:
		member, _ := stringArg(args, 0)
		v, err := d.ops.Get(target, member)
		if err != nil {
			return "", 0, err
		}
		return d.boxJSON(v)

	case protocol.ROpClassSet:
		member, _ := stringArg(args, 0)
		raw := argOrNil(args, 1)
		if err := d.ops.Set(target, member, d.revive(raw)); err != nil {
			return "", 0, err
		}
		return "", 0, nil

	case protocol.ROpClassCall:
		member, _ := stringArg(args, 0)
		callArgs, _ := sliceArg(args, 1)
		v, err := d.ops.Call(target, member, d.reviveArgs(callArgs))
		if err != nil {
			return "", 0, err
		}
		return d.boxJSON(v)

	case protocol.ROpClassInvoke:
		invArgs, _ := sliceArg(args, 0)
		v, err := d.ops.Invoke(target, d.reviveArgs(invArgs))
		if err != nil {
			return "", 0, err
		}
		return d.boxJSON(v)

	case protocol.ROpClassGetIterator:
		it, err := d.ops.Iterator(target)
		if err != nil {
			return "", 0, err
		}
		id := d.reg.Register(it)
		return fmt.Sprintf("%d", id), protocol.FlagHasIterator, nil

	case protocol.ROpClassToString:
		s, err := d.ops.ToString(target)
		if err != nil {
			return "", 0, err
		}
		return s, protocol.FlagIsString, nil

	case protocol.ROpClassIsset:
		member, _ := stringArg(args, 0)
		ok, err := d.ops.Isset(target, member)
		if err != nil {
			return "", 0, err
		}
		if ok {
			return "true", protocol.FlagIsJSON, nil
		}
		return "false", protocol.FlagIsJSON, nil

	case protocol.ROpClassUnset:
		member, _ := stringArg(args, 0)
		if err := d.ops.Unset(target, member); err != nil {
			return "", 0, err
		}
		return "", 0, nil

	case protocol.ROpClassProps:
		names, err := d.ops.Props(target)
		if err != nil {
			return "", 0, err
		}
		return d.boxJSON(names)

	case protocol.ROpClassStaticCall:
		class, _ := stringArg(args, 0)
		method, _ := stringArg(args, 1)
		callArgs, _ := sliceArg(args, 2)
		v, err := d.ops.StaticCall(class, method, d.reviveArgs(callArgs))
		if err != nil {
			return "", 0, err
		}
		return d.boxJSON(v)

	case protocol.ROpCall:
		name, _ := stringArg(args, 0)
		callArgs, _ := sliceArg(args, 1)
		v, err := d.ops.FunctionCall(name, d.reviveArgs(callArgs))
		if err != nil {
			return "", 0, err
		}
		return d.boxJSON(v)

	case protocol.ROpJSONEncode:
		v := argOrNil(args, 0)
		data, err := marshal.Encode(d.reg, d.revive(v))
		if err != nil {
			return "", 0, err
		}
		return string(data), protocol.FlagIsJSON, nil

	default:
		return "", 0, errors.Str(fmt.Sprintf("unhandled reverse opcode %s", rop))
	}
}

// targetFor resolves the handle a member-scoped reverse op addresses.
// GET_CLASS, CONSTRUCT and CALL are not handle-scoped; everything else
// looks targetID up in the registry.
func (d *Dispatcher) targetFor(rop protocol.ReverseOp, targetID int32) (any, error) {
	switch rop {
	case protocol.ROpGetClass, protocol.ROpConstruct, protocol.ROpCall, protocol.ROpClassStaticCall, protocol.ROpJSONEncode:
		return nil, nil
	default:
		return d.reg.Lookup(targetID)
	}
}

func (d *Dispatcher) boxHandle(v any) (string, protocol.DataFlag, error) {
	id := d.reg.Register(v)
	return fmt.Sprintf("%d", id), 0, nil
}

func (d *Dispatcher) boxJSON(v any) (string, protocol.DataFlag, error) {
	if v == nil {
		return "", 0, nil
	}
	data, err := marshal.Encode(d.reg, v)
	if err != nil {
		return "", 0, err
	}
	return string(data), protocol.FlagIsJSON, nil
}

func (d *Dispatcher) revive(v any) any {
	return marshal.Revive(d.reg, v)
}

func (d *Dispatcher) reviveArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = d.revive(a)
	}
	return out
}

func (d *Dispatcher) writeResult(flags protocol.DataFlag, body string) {
	if err := protocol.WriteData(d.rw, flags, body); err != nil && d.log != nil {
		d.log.Warn("failed to write data reply", zap.Error(err))
	}
}

func (d *Dispatcher) writeError(message string) {
	if err := protocol.WriteData(d.rw, protocol.FlagIsError, message); err != nil && d.log != nil {
		d.log.Warn("failed to write error reply", zap.Error(err))
	}
}

func stringArg(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func intArg(args []any, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	f, ok := args[i].(float64)
	return int(f), ok
}

func sliceArg(args []any, i int) ([]any, bool) {
	if i >= len(args) {
		return nil, false
	}
	s, ok := args[i].([]any)
	return s, ok
}

func argOrNil(args []any, i int) any {
	if i >= len(args) {
		return nil
	}
	return args[i]
}
