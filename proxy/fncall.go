package proxy

import (
	"golang.org/x/net/context"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

// FnCall is the builder for a global function (or, via Cls, a static
// method) invocation terminal.
type FnCall struct {
	d    *dispatch.Dispatcher
	name string
}

// Call emits CALL (or a dedicated opcode for eval/echo/include/...
// single-component names), returning the decoded
// result value.
func (f *FnCall) Call(ctx context.Context, args ...any) (any, error) {
	if op, ok := dedicatedOpcode(f.name); ok {
		return f.callDedicated(ctx, op, args)
	}
	payload, err := f.payload(args)
	if err != nil {
		return nil, err
	}
	return f.d.Do(ctx, protocol.OpCall, payload)
}

// CallThis emits CALL_THIS, binding the result to a fresh Instance façade
// instead of decoding it as a plain value.
func (f *FnCall) CallThis(ctx context.Context, args ...any) (*Instance, error) {
	payload, err := f.payload(args)
	if err != nil {
		return nil, err
	}
	result, err := f.d.Do(ctx, protocol.OpCallThis, payload)
	if err != nil {
		return nil, err
	}
	return bindInstance(f.d, result)
}

func (f *FnCall) callDedicated(ctx context.Context, op protocol.ForwardOp, args []any) (any, error) {
	switch op {
	case protocol.OpCallEcho:
		payload, err := encodeArgsReg(f.d, args)
		if err != nil {
			return nil, err
		}
		return f.d.Do(ctx, op, payload)
	default:
		var code string
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				code = s
			}
		}
		payload, err := encodeJSON(code)
		if err != nil {
			return nil, err
		}
		return f.d.Do(ctx, op, payload)
	}
}

func (f *FnCall) payload(args []any) (string, error) {
	if len(args) == 0 {
		return f.name, nil
	}
	argsJSON, err := encodeArgsReg(f.d, args)
	if err != nil {
		return "", err
	}
	return f.name + " " + argsJSON, nil
}
