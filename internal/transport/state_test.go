package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/transport"
)

func TestStateBoxLoadStoreSwap(t *testing.T) {
	var box transport.StateBox
	require.Equal(t, transport.Uninitialized, box.Load())

	box.Store(transport.Initializing)
	require.Equal(t, transport.Initializing, box.Load())

	prev := box.Swap(transport.Initialized)
	assert.Equal(t, transport.Initializing, prev)
	assert.Equal(t, transport.Initialized, box.Load())
}

func TestStateBoxResetIfTerminated(t *testing.T) {
	var box transport.StateBox
	box.Store(transport.Initialized)

	assert.False(t, box.ResetIfTerminated())
	assert.Equal(t, transport.Initialized, box.Load())

	box.Store(transport.Terminated)
	assert.True(t, box.ResetIfTerminated())
	assert.Equal(t, transport.Uninitialized, box.Load())
}

func TestStateString(t *testing.T) {
	cases := map[transport.State]string{
		transport.Uninitialized: "uninitialized",
		transport.Initializing:  "initializing",
		transport.Initialized:   "initialized",
		transport.InitFailed:    "init-failed",
		transport.Terminated:    "terminated",
		transport.State(99):     "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
