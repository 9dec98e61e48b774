package marshal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/marshal"
)

type fakeRegistry struct {
	objects map[int32]any
	next    int32
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{objects: map[int32]any{}, next: 2}
}

func (f *fakeRegistry) Register(obj any) int32 {
	id := f.next
	f.next++
	f.objects[id] = obj
	return id
}

func (f *fakeRegistry) Lookup(id int32) (any, error) {
	obj, ok := f.objects[id]
	if !ok {
		return nil, assertErr{}
	}
	return obj, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "unknown handle" }

type liveObject struct{ name string }

func TestEncodeBoxesHandleEligibleValue(t *testing.T) {
	reg := newFakeRegistry()
	obj := &liveObject{name: "svc"}

	out, err := marshal.Encode(reg, map[string]any{"a": map[string]any{"b": obj}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"DENO_WORLD_INST_ID":2`)
	assert.Same(t, obj, reg.objects[2])
}

func TestEncodePlainValuesPassThrough(t *testing.T) {
	reg := newFakeRegistry()
	out, err := marshal.Encode(reg, map[string]any{"a": map[string]any{"b": float64(1)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"b":1}}`, string(out))
	assert.Empty(t, reg.objects)
}

func TestDecodeRevivesKnownHandle(t *testing.T) {
	reg := newFakeRegistry()
	obj := &liveObject{name: "svc"}
	reg.objects[5] = obj

	tree, err := marshal.Decode(reg, []byte(`{"x":{"DENO_WORLD_INST_ID":5}}`))
	require.NoError(t, err)

	m := tree.(map[string]any)
	x := m["x"]
	assert.Same(t, obj, x)
}

func TestDecodeLeavesUnknownHandleAsSentinel(t *testing.T) {
	reg := newFakeRegistry()
	tree, err := marshal.Decode(reg, []byte(`{"x":{"DENO_WORLD_INST_ID":99}}`))
	require.NoError(t, err)

	m := tree.(map[string]any)
	x := m["x"].(map[string]any)
	assert.Equal(t, float64(99), x["DENO_WORLD_INST_ID"])
}

func TestDecodeNeverRegistersNewHandles(t *testing.T) {
	reg := newFakeRegistry()
	before := reg.next
	_, err := marshal.Decode(reg, []byte(`{"a":[1,2,3],"b":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, before, reg.next)
}
