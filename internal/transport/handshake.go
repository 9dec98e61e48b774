package transport

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net"
	"strings"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

// randomBytes fills n cryptographically random bytes: the key and stdout
// sentinel must not collide with user data, and crypto/rand is the
// standard source for that guarantee.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Handshake holds the two random secrets minted for one initialization
// attempt, and the line format they're exchanged in.
type Handshake struct {
	Key      []byte
	Sentinel []byte
}

// NewHandshake mints a fresh key and stdout sentinel.
func NewHandshake() (*Handshake, error) {
	key, err := randomBytes(protocol.HandshakeKeyLen)
	if err != nil {
		return nil, err
	}
	sentinel, err := randomBytes(protocol.StdoutSentinelLen)
	if err != nil {
		return nil, err
	}
	return &Handshake{Key: key, Sentinel: sentinel}, nil
}

// Line encodes the four-field handshake line written to PHP's stdin (child
// mode) or into the DENO_WORLD_HELO FastCGI parameter.
func (h *Handshake) Line(socketURI, initScriptPath string) string {
	fields := []string{
		base64.StdEncoding.EncodeToString(h.Key),
		base64.StdEncoding.EncodeToString(h.Sentinel),
		base64.StdEncoding.EncodeToString([]byte(socketURI)),
		base64.StdEncoding.EncodeToString([]byte(initScriptPath)),
	}
	return strings.Join(fields, " ")
}

const handshakeOp = errors.Op("transport_handshake")

// bufferedConn wraps a net.Conn whose first line has already been consumed
// through a bufio.Reader, so later direct reads see whatever the reader
// had buffered past the line instead of losing it.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// AcceptAuthenticated accepts connections from ln until one presents key on
// its first line. Rejected attempts are closed and the loop retries; only
// a listener-level error is fatal. The returned connection preserves any
// bytes the handshake read buffered past the first line.
func AcceptAuthenticated(ln net.Listener, key []byte, log *zap.Logger) (net.Conn, error) {
	expected := base64.StdEncoding.EncodeToString(key)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil, errors.E(handshakeOp, err)
		}

		br := bufio.NewReader(conn)
		line, err := br.ReadString('\n')
		if err != nil {
			if log != nil {
				log.Debug("handshake read failed, rejecting connection", zap.Error(err))
			}
			_ = conn.Close()
			continue
		}
		if strings.TrimRight(line, "\r\n") != expected {
			if log != nil {
				log.Warn("handshake key mismatch, rejecting connection")
			}
			_ = conn.Close()
			continue
		}
		return &bufferedConn{Conn: conn, r: br}, nil
	}
}
