package transport_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/transport"
)

func TestListenUnixSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.sock")

	ln, uri, err := transport.Listen(transport.Endpoint{UnixSocketPath: path})
	require.NoError(t, err)
	defer ln.Close()

	require.Equal(t, "unix://"+path, uri)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestListenTCPAdvertisesConfiguredHost(t *testing.T) {
	ln, uri, err := transport.Listen(transport.Endpoint{BindHost: "127.0.0.1", AdvertiseHost: "localhost"})
	require.NoError(t, err)
	defer ln.Close()

	require.True(t, strings.HasPrefix(uri, "tcp://localhost:"))
}

func TestCloseAndCleanRemovesSocketFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.sock")
	ep := transport.Endpoint{UnixSocketPath: path}

	ln, _, err := transport.Listen(ep)
	require.NoError(t, err)

	require.NoError(t, transport.CloseAndClean(ln, ep))
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}
