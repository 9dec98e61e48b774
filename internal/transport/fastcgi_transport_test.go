package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/transport"
)

func TestSpawnFastCGIRejectsEmptyListen(t *testing.T) {
	dir := t.TempDir()
	ln, _, err := transport.Listen(transport.Endpoint{UnixSocketPath: dir + "/bridge.sock"})
	require.NoError(t, err)
	defer ln.Close()

	hs, err := transport.NewHandshake()
	require.NoError(t, err)

	cfg := &transport.FastCGIConfig{Listen: "", BootstrapSource: "<?php"}
	_, err = transport.SpawnFastCGI(context.Background(), ln, cfg, hs, "unix:///tmp/x.sock", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
