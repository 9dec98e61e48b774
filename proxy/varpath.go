package proxy

import (
	"fmt"
	"strings"

	"golang.org/x/net/context"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/marshal"
	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

// VarPath accumulates an index path off a global variable: Get/Set/Delete
// are the terminals; Path appends components without emitting any record.
type VarPath struct {
	d      *dispatch.Dispatcher
	name   string
	suffix []string
}

// Path appends index components (array keys / property names) to the
// path. Each component must not contain a space.
func (v *VarPath) Path(components ...string) *VarPath {
	next := &VarPath{d: v.d, name: v.name, suffix: append(append([]string{}, v.suffix...), components...)}
	return next
}

func (v *VarPath) validate() error {
	for _, c := range v.suffix {
		if err := validateComponent(c); err != nil {
			return err
		}
	}
	return nil
}

// Get emits GET (or GET_THIS when the terminal component is "this",
// returning an Instance façade bound to the resulting handle instead of a
// decoded value).
func (v *VarPath) Get(ctx context.Context) (any, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	if len(v.suffix) > 0 && v.suffix[len(v.suffix)-1] == "this" {
		payload, err := v.pathPayload(v.suffix[:len(v.suffix)-1])
		if err != nil {
			return nil, err
		}
		return v.getThis(ctx, protocol.OpGetThis, payload)
	}
	payload, err := v.pathPayload(v.suffix)
	if err != nil {
		return nil, err
	}
	return v.d.Do(ctx, protocol.OpGet, payload)
}

func (v *VarPath) getThis(ctx context.Context, op protocol.ForwardOp, payload string) (*Instance, error) {
	result, err := v.d.Do(ctx, op, payload)
	if err != nil {
		return nil, err
	}
	return bindInstance(v.d, result)
}

func (v *VarPath) pathPayload(suffix []string) (string, error) {
	if len(suffix) == 0 {
		return v.name, nil
	}
	pathJSON, err := encodeJSON(stringsToAny(suffix))
	if err != nil {
		return "", err
	}
	return v.name + " " + pathJSON, nil
}

// Set writes value at this path, pre-registering it as a handle and using
// the *_INST opcode variants when it is handle-eligible.
func (v *VarPath) Set(ctx context.Context, value any) error {
	if err := v.validate(); err != nil {
		return err
	}

	encoded, handleEligible, err := encodeSettable(v.d.Registry(), value)
	if err != nil {
		return err
	}

	if len(v.suffix) == 0 {
		op := protocol.OpSet
		if handleEligible {
			op = protocol.OpSetInst
		}
		_, err := v.d.Do(ctx, op, v.name+" "+encoded)
		return err
	}

	tuple, err := encodeJSON([]any{stringsToAny(v.suffix), rawJSON(encoded)})
	if err != nil {
		return err
	}
	op := protocol.OpSetPath
	if handleEligible {
		op = protocol.OpSetPathInst
	}
	_, err = v.d.Do(ctx, op, v.name+" "+tuple)
	return err
}

// Delete emits UNSET or UNSET_PATH.
func (v *VarPath) Delete(ctx context.Context) error {
	if err := v.validate(); err != nil {
		return err
	}
	if len(v.suffix) == 0 {
		_, err := v.d.Do(ctx, protocol.OpUnset, v.name)
		return err
	}
	pathJSON, err := encodeJSON(stringsToAny(v.suffix))
	if err != nil {
		return err
	}
	_, err = v.d.Do(ctx, protocol.OpUnsetPath, fmt.Sprintf("%s %s", v.name, pathJSON))
	return err
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// rawJSON wraps an already-encoded JSON string so encodeJSON embeds it
// verbatim instead of re-escaping it as a string literal.
type rawJSONValue struct{ raw string }

func (r rawJSONValue) MarshalJSON() ([]byte, error) { return []byte(r.raw), nil }

func rawJSON(s string) rawJSONValue { return rawJSONValue{raw: s} }

// encodeSettable runs the marshal replacer over value, reports whether it
// was handle-eligible (i.e. got boxed into a sentinel rather than passing
// through as a plain JSON scalar/record), and returns its JSON encoding.
func encodeSettable(reg marshal.Registry, value any) (string, bool, error) {
	data, err := marshal.Encode(reg, value)
	if err != nil {
		return "", false, err
	}
	eligible := looksLikeHandleSentinel(data)
	return string(data), eligible, nil
}

func looksLikeHandleSentinel(data []byte) bool {
	return strings.HasPrefix(string(data), `{"`+protocol.HandleIDKey+`":`)
}
