package transport

import (
	"context"
	"io"
	"net"

	"github.com/roadrunner-server/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/roadrunner-server/phpbridge/internal/phperr"
)

const spawnOp = errors.Op("transport_spawn")

// Channel is the duplex byte channel the framing codec reads and writes.
type Channel = io.ReadWriteCloser

// Session is everything Spawn hands back: the authenticated control
// channel, an optional stdout source for the multiplexer, and the means to
// observe process exit.
type Session struct {
	Channel  Channel
	Stdout   io.Reader // nil unless the child-process transport is piped
	Sentinel []byte    // the stdout split delimiter minted for this session

	ln       net.Listener
	endpoint Endpoint
	child    *ChildProcess // nil in FastCGI mode
}

// Spawn brings up one fresh session: binds a listener,
// mints a handshake, starts the configured transport, and returns once the
// control channel has been accepted and authenticated.
func Spawn(ctx context.Context, cfg *Config, log *zap.Logger) (*Session, error) {
	ln, socketURI, err := Listen(cfg.Endpoint)
	if err != nil {
		return nil, errors.E(spawnOp, err)
	}

	hs, err := NewHandshake()
	if err != nil {
		_ = ln.Close()
		return nil, errors.E(spawnOp, err)
	}

	if cfg.UsesFastCGI() {
		conn, err := SpawnFastCGI(ctx, ln, cfg.FastCGI, hs, socketURI, cfg.InitPHPFile, log)
		if err != nil {
			_ = CloseAndClean(ln, cfg.Endpoint)
			return nil, errors.E(spawnOp, err)
		}
		return &Session{Channel: conn, Sentinel: hs.Sentinel, ln: ln, endpoint: cfg.Endpoint}, nil
	}

	child, err := StartChildProcess(cfg.Child, hs, socketURI, cfg.InitPHPFile, log)
	if err != nil {
		_ = CloseAndClean(ln, cfg.Endpoint)
		return nil, errors.E(spawnOp, err)
	}

	conn, err := AcceptAuthenticated(ln, hs.Key, log)
	if err != nil {
		_ = child.Kill()
		_ = CloseAndClean(ln, cfg.Endpoint)
		return nil, errors.E(spawnOp, err)
	}

	return &Session{
		Channel:  conn,
		Stdout:   child.Stdout(),
		Sentinel: hs.Sentinel,
		ln:       ln,
		endpoint: cfg.Endpoint,
		child:    child,
	}, nil
}

// NewSessionForTest builds a Session directly, bypassing Spawn. Exported
// for the transport_test package; production code always goes through
// Spawn.
func NewSessionForTest(ch Channel, ln net.Listener, ep Endpoint) *Session {
	return &Session{Channel: ch, ln: ln, endpoint: ep}
}

// Terminate closes the control channel, reaps the child process (if any),
// and tears down the listener, combining every failure into one error.
func (s *Session) Terminate() (exitCode int, err error) {
	var errs error

	if s.Channel != nil {
		errs = multierr.Append(errs, s.Channel.Close())
	}

	exitCode = phperr.UnknownExitCode
	if s.child != nil {
		_ = s.child.Stop()
		exitCode = s.child.Wait()
	} else {
		exitCode = 0
	}

	errs = multierr.Append(errs, CloseAndClean(s.ln, s.endpoint))

	return exitCode, errs
}
