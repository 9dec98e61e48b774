package proxy

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/context"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/phperr"
	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

// Instance is the façade bound to a handle PHP returned for a remote
// object (from CONSTRUCT, GET_THIS, CALL_THIS, ...), replacing the
// per-instance dynamic proxy of with explicit builder
// methods.
type Instance struct {
	d        *dispatch.Dispatcher
	id       int32
	disposed bool
}

// ID returns the PHP-assigned handle identifying this instance.
func (i *Instance) ID() int32 { return i.id }

// Sentinel implements marshal.SentinelSource: an Instance already names a
// PHP-side object, so it must round-trip as a reference to that object
// rather than being boxed as a brand-new host handle.
func (i *Instance) Sentinel() map[string]any {
	return map[string]any{protocol.InstIDKey: i.id}
}

func bindInstance(d *dispatch.Dispatcher, result any) (*Instance, error) {
	id, err := parseHandleResult(result)
	if err != nil {
		return nil, err
	}
	return &Instance{d: d, id: id}, nil
}

// parseHandleResult accepts either a bare numeric handle id or the
// "<id> <class-name>" form CONSTRUCT may return.
func parseHandleResult(result any) (int32, error) {
	switch v := result.(type) {
	case float64:
		return int32(v), nil
	case string:
		fields := strings.SplitN(v, " ", 2)
		n, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			return 0, &phperr.InvalidUsageError{Reason: "handle result is not numeric: " + v}
		}
		return int32(n), nil
	default:
		return 0, &phperr.InvalidUsageError{Reason: fmt.Sprintf("unexpected handle result type %T", result)}
	}
}

func (i *Instance) target() string { return strconv.FormatInt(int64(i.id), 10) }

// Member starts a path over an instance property or method.
func (i *Instance) Member(name string) *MemberPath {
	return &MemberPath{inst: i, name: name}
}

// Invoke calls the instance itself (PHP's __invoke), emitting CLASS_INVOKE.
func (i *Instance) Invoke(ctx context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return i.d.Do(ctx, protocol.OpClassInvoke, i.target())
	}
	argsJSON, err := encodeArgsReg(i.d, args)
	if err != nil {
		return nil, err
	}
	return i.d.Do(ctx, protocol.OpClassInvoke, i.target()+" "+argsJSON)
}

// Iterate drives CLASS_ITERATE_BEGIN/CLASS_ITERATE to completion, per
// , returning the accumulated values.
func (i *Instance) Iterate(ctx context.Context) ([]any, error) {
	if _, err := i.d.Do(ctx, protocol.OpClassIterateBegin, i.target()); err != nil {
		return nil, err
	}
	var values []any
	for {
		step, err := i.d.Do(ctx, protocol.OpClassIterate, i.target())
		if err != nil {
			return nil, err
		}
		m, ok := step.(map[string]any)
		if !ok {
			return values, nil
		}
		if done, _ := m["done"].(bool); done {
			return values, nil
		}
		values = append(values, m["value"])
	}
}

// Dispose emits a fire-and-forget DESTRUCT for this handle; it is
// idempotent.
func (i *Instance) Dispose(ctx context.Context) {
	if i.disposed {
		return
	}
	i.disposed = true
	_, _ = i.d.Do(ctx, protocol.OpDestruct, i.target())
}

// MemberPath is the per-member builder (CLASS_GET/SET/CALL/UNSET and
// their *_PATH variants).
type MemberPath struct {
	inst   *Instance
	name   string
	suffix []string
}

func (m *MemberPath) Path(components ...string) *MemberPath {
	return &MemberPath{inst: m.inst, name: m.name, suffix: append(append([]string{}, m.suffix...), components...)}
}

func (m *MemberPath) target() string { return m.inst.target() + " " + m.name }

func (m *MemberPath) Get(ctx context.Context) (any, error) {
	if len(m.suffix) > 0 && m.suffix[len(m.suffix)-1] == "this" {
		result, err := m.inst.d.Do(ctx, protocol.OpClassGetThis, m.target())
		if err != nil {
			return nil, err
		}
		return bindInstance(m.inst.d, result)
	}
	if len(m.suffix) == 0 {
		return m.inst.d.Do(ctx, protocol.OpClassGet, m.target())
	}
	pathJSON, err := encodeJSON(stringsToAny(m.suffix))
	if err != nil {
		return nil, err
	}
	return m.inst.d.Do(ctx, protocol.OpClassGet, m.target()+" "+pathJSON)
}

func (m *MemberPath) Set(ctx context.Context, value any) error {
	encoded, eligible, err := encodeSettable(m.inst.d.Registry(), value)
	if err != nil {
		return err
	}
	if len(m.suffix) == 0 {
		op := protocol.OpClassSet
		if eligible {
			op = protocol.OpClassSetInst
		}
		_, err := m.inst.d.Do(ctx, op, m.target()+" "+encoded)
		return err
	}
	tuple, err := encodeJSON([]any{stringsToAny(m.suffix), rawJSON(encoded)})
	if err != nil {
		return err
	}
	op := protocol.OpClassSetPath
	if eligible {
		op = protocol.OpClassSetPathInst
	}
	_, err = m.inst.d.Do(ctx, op, m.target()+" "+tuple)
	return err
}

// Delete emits CLASS_UNSET/CLASS_UNSET_PATH, or DESTRUCT when the member
// name is the literal "this" (the deprecated "delete this" convention
// keeps for compatibility; new code should call Dispose).
func (m *MemberPath) Delete(ctx context.Context) error {
	if m.name == "this" && len(m.suffix) == 0 {
		m.inst.Dispose(ctx)
		return nil
	}
	if len(m.suffix) == 0 {
		_, err := m.inst.d.Do(ctx, protocol.OpClassUnset, m.target())
		return err
	}
	pathJSON, err := encodeJSON(stringsToAny(m.suffix))
	if err != nil {
		return err
	}
	_, err = m.inst.d.Do(ctx, protocol.OpClassUnsetPath, m.target()+" "+pathJSON)
	return err
}

// Call emits CLASS_CALL (direct method) or CLASS_CALL_PATH (nested member
// function reached by property path).
func (m *MemberPath) Call(ctx context.Context, args ...any) (any, error) {
	op := protocol.OpClassCall
	target := m.target()
	if len(m.suffix) > 0 {
		op = protocol.OpClassCallPath
		pathJSON, err := encodeJSON(stringsToAny(m.suffix))
		if err != nil {
			return nil, err
		}
		target = target + " " + pathJSON
	}
	if len(args) == 0 {
		return m.inst.d.Do(ctx, op, target)
	}
	argsJSON, err := encodeArgsReg(m.inst.d, args)
	if err != nil {
		return nil, err
	}
	return m.inst.d.Do(ctx, op, target+" "+argsJSON)
}
