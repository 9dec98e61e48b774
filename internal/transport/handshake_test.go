package transport_test

import (
	"bufio"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge/internal/transport"
)

func TestNewHandshakeProducesDistinctSecrets(t *testing.T) {
	hs, err := transport.NewHandshake()
	require.NoError(t, err)
	require.NotEmpty(t, hs.Key)
	require.NotEmpty(t, hs.Sentinel)
	require.NotEqual(t, hs.Key, hs.Sentinel)
}

func TestHandshakeLineFields(t *testing.T) {
	hs, err := transport.NewHandshake()
	require.NoError(t, err)

	line := hs.Line("unix:///tmp/bridge.sock", "/var/www/bootstrap.php")
	fields := strings.Split(line, " ")
	require.Len(t, fields, 4)

	key, err := base64.StdEncoding.DecodeString(fields[0])
	require.NoError(t, err)
	require.Equal(t, hs.Key, key)

	socketURI, err := base64.StdEncoding.DecodeString(fields[2])
	require.NoError(t, err)
	require.Equal(t, "unix:///tmp/bridge.sock", string(socketURI))
}

func TestAcceptAuthenticatedRejectsWrongKey(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	hs, err := transport.NewHandshake()
	require.NoError(t, err)

	acceptedCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := transport.AcceptAuthenticated(ln, hs.Key, nil)
		if err != nil {
			errCh <- err
			return
		}
		acceptedCh <- conn
	}()

	bad, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, _ = bad.Write([]byte("not-the-key\n"))

	good, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, _ = good.Write([]byte(base64.StdEncoding.EncodeToString(hs.Key) + "\ntrailing-bytes"))

	select {
	case conn := <-acceptedCh:
		defer conn.Close()
		buf := make([]byte, len("trailing-bytes"))
		_, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "trailing-bytes", string(buf))
	case err := <-errCh:
		t.Fatalf("unexpected accept error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for authenticated accept")
	}
}

// sanity check of the bufio behaviour AcceptAuthenticated relies on: bytes
// buffered past the first line stay readable from the same bufio.Reader.
// TestAcceptAuthenticatedRejectsWrongKey checks the accepted connection itself.
func TestBufioReaderKeepsBytesPastFirstLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("key\nrest"))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "key\n", line)
	remainder, err := r.ReadString(0)
	require.Equal(t, "rest", remainder)
	_ = err
}
