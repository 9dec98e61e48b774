// Package marshal implements the JSON (de)serialization hook that crosses
// the wire boundary: a replacer that substitutes handle IDs for
// cross-runtime references on encode, and a reviver that substitutes live
// host objects for handle sentinels on decode.
package marshal

import (
	"reflect"

	json "github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"

	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

const op = errors.Op("marshal")

// Registry is the subset of *handle.Registry the marshaller needs. It is an
// interface so tests can substitute a fake registry.
type Registry interface {
	Register(obj any) int32
	Lookup(id int32) (any, error)
}

// AlreadyPHPOwned is implemented by callback-like host values that already
// carry a PHP-object marker and must never be re-wrapped in a handle
// sentinel: a function that does not already carry the "belongs to PHP"
// marker is boxed as a fresh handle instead.
type AlreadyPHPOwned interface {
	OwnedByPHP() bool
}

// SentinelSource is implemented by values that already name a
// cross-runtime reference (the proxy layer's Instance façade). Encoding
// calls Sentinel() directly instead of registering a brand-new host
// handle for them.
type SentinelSource interface {
	Sentinel() map[string]any
}

// Encode walks v and replaces every handle-eligible object with a
// {DENO_WORLD_INST_ID: <id>} sentinel, then serializes the result to JSON.
// Encode never mutates v.
func Encode(reg Registry, v any) ([]byte, error) {
	replaced := replace(reg, v)
	out, err := json.Marshal(replaced)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return out, nil
}

// Decode parses JSON into a generic tree and replaces every handle sentinel
// object with the live host object it names. Unknown handle ids are left as
// the sentinel map so callers can detect the miss. Decode never registers
// new handles.
func Decode(reg Registry, data []byte) (any, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, errors.E(op, err)
	}
	return revive(reg, tree), nil
}

// Revive applies the decode-side handle substitution to an already-parsed
// JSON tree (map[string]any / []any / scalars), for callers that parsed a
// larger envelope themselves and only need the sentinel swap.
func Revive(reg Registry, tree any) any {
	return revive(reg, tree)
}

// replace performs the encode-side substitution. Plain maps/slices/scalars
// pass through structurally (via a shallow, type-preserving walk); anything
// else that looks handle-eligible is boxed into a sentinel.
func replace(reg Registry, v any) any {
	if v == nil {
		return nil
	}

	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = replace(reg, val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = replace(reg, val)
		}
		return out
	case string, bool, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number:
		return t
	}

	if src, ok := v.(SentinelSource); ok {
		return src.Sentinel()
	}

	if owned, ok := v.(AlreadyPHPOwned); ok && owned.OwnedByPHP() {
		return v
	}

	if isPlainStructure(v) {
		return structToMap(reg, v)
	}

	id := reg.Register(v)
	return map[string]any{protocol.HandleIDKey: id}
}

// isPlainStructure reports whether v is a plain record/array the marshaller
// should recurse into rather than box as a handle: a struct, map, slice or
// array value, or a nil pointer (encoded as null). Everything else
// handle-eligible (funcs not owned by PHP, live service objects held by
// pointer) is boxed.
func isPlainStructure(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		return rv.IsNil()
	}
	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

func structToMap(reg Registry, v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		// Falls back to a handle: a struct that cannot round-trip through
		// JSON on its own is treated as an opaque host object instead.
		id := reg.Register(v)
		return map[string]any{protocol.HandleIDKey: id}
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		id := reg.Register(v)
		return map[string]any{protocol.HandleIDKey: id}
	}
	return replace(reg, generic)
}

// revive performs the decode-side substitution.
func revive(reg Registry, v any) any {
	switch t := v.(type) {
	case map[string]any:
		if id, ok := sentinelID(t); ok {
			if obj, err := reg.Lookup(int32(id)); err == nil {
				return obj
			}
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = revive(reg, val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = revive(reg, val)
		}
		return out
	default:
		return v
	}
}

// sentinelID reports whether m is exactly {HandleIDKey: <non-negative
// number>}.
func sentinelID(m map[string]any) (float64, bool) {
	if len(m) != 1 {
		return 0, false
	}
	raw, ok := m[protocol.HandleIDKey]
	if !ok {
		return 0, false
	}
	num, ok := raw.(float64)
	if !ok || num < 0 {
		return 0, false
	}
	return num, true
}
