package handle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roadrunner-server/phpbridge/internal/handle"
)

type disposable struct{ disposed *bool }

func (d disposable) Dispose() error {
	*d.disposed = true
	return nil
}

func TestRegisterAssignsDistinctIDs(t *testing.T) {
	r := handle.New(zap.NewNop(), "bridge", "global")

	a := r.Register("a")
	b := r.Register("b")
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, a, int32(2))
	assert.GreaterOrEqual(t, b, int32(2))
}

func TestLookupPinnedSlots(t *testing.T) {
	r := handle.New(zap.NewNop(), "bridge", "global")

	obj, err := r.Lookup(handle.BridgeInstanceID)
	require.NoError(t, err)
	assert.Equal(t, "bridge", obj)

	obj, err = r.Lookup(handle.GlobalNamespaceID)
	require.NoError(t, err)
	assert.Equal(t, "global", obj)
}

func TestReleaseRunsDisposer(t *testing.T) {
	r := handle.New(zap.NewNop(), "bridge", "global")
	var disposed bool
	id := r.Register(disposable{disposed: &disposed})

	r.Release(context.Background(), id)
	assert.True(t, disposed)

	_, err := r.Lookup(id)
	assert.ErrorIs(t, err, handle.ErrUnknownHandle)
}

func TestReleaseAbovePreservesPinned(t *testing.T) {
	r := handle.New(zap.NewNop(), "bridge", "global")
	marker := handle.GlobalNamespaceID

	ids := make([]int32, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, r.Register(i))
	}
	assert.EqualValues(t, 5, r.LiveCount())

	r.ReleaseAbove(context.Background(), marker)
	assert.EqualValues(t, 0, r.LiveCount())

	for _, id := range ids {
		_, err := r.Lookup(id)
		assert.ErrorIs(t, err, handle.ErrUnknownHandle)
	}

	_, err := r.Lookup(handle.BridgeInstanceID)
	assert.NoError(t, err)
}

func TestFrameStackPushPop(t *testing.T) {
	fs := handle.NewFrameStack()
	fs.Push(5)
	fs.Push(9)
	assert.Equal(t, 2, fs.Depth())

	m, ok := fs.Pop()
	require.True(t, ok)
	assert.Equal(t, int32(9), m)

	m, ok = fs.Pop()
	require.True(t, ok)
	assert.Equal(t, int32(5), m)

	_, ok = fs.Pop()
	assert.False(t, ok)
}
