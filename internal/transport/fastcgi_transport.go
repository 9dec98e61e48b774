package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roadrunner-server/phpbridge/internal/fastcgi"
)

const fastcgiOp = errors.Op("transport_fastcgi")

// FastCGIResult is what SpawnFastCGI races the listener accept against.
type FastCGIResult struct {
	Response *fastcgi.Response
	Err      error
}

// SpawnFastCGI performs the FastCGI half of the spawn/attach accept loop:
// it fires one FastCGI request carrying the handshake in DENO_WORLD_HELO and
// SCRIPT_FILENAME pointing at a staged bootstrap copy, and races its
// response against the listener's accept. Whichever arrives first decides
// the outcome; if the FastCGI response wins, the handshake failed and the
// error surfaces the FastCGI status and body.
func SpawnFastCGI(ctx context.Context, ln net.Listener, cfg *FastCGIConfig, hs *Handshake, socketURI, initScript string, log *zap.Logger) (net.Conn, error) {
	scriptPath := cfg.InterpreterScript
	var cleanup func()
	if scriptPath == "" {
		id := uuid.New().String()
		path, fn, err := StageBootstrapFile("", id, []byte(cfg.BootstrapSource))
		if err != nil {
			return nil, errors.E(fastcgiOp, err)
		}
		scriptPath, cleanup = path, fn
	}
	if cleanup != nil {
		defer cleanup()
	}

	network, address, err := parseFastCGIListen(cfg.Listen)
	if err != nil {
		return nil, errors.E(fastcgiOp, err)
	}

	params := make(map[string]string, len(cfg.Params)+2)
	for k, v := range cfg.Params {
		params[k] = v
	}
	params["DENO_WORLD_HELO"] = hs.Line(socketURI, initScript)
	params["SCRIPT_FILENAME"] = scriptPath
	if _, ok := params["REQUEST_METHOD"]; !ok {
		method := cfg.RequestMethod
		if method == "" {
			method = "GET"
		}
		params["REQUEST_METHOD"] = method
	}

	fcgiReq := fastcgi.Request{
		Params:     params,
		OnResponse: cfg.OnResponse,
	}
	if cfg.RequestBody != nil {
		fcgiReq.Body = cfg.RequestBody
	}

	connCh := make(chan net.Conn, 1)
	acceptDone := make(chan error, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		conn, err := AcceptAuthenticated(ln, hs.Key, log)
		if err != nil {
			acceptDone <- err
			return err
		}
		select {
		case connCh <- conn:
		default:
			_ = conn.Close()
		}
		return nil
	})

	fcgiCh := make(chan FastCGIResult, 1)
	g.Go(func() error {
		reqCtx := gctx
		if deadline := keepAliveDeadline(cfg.KeepAliveTimeout); !deadline.IsZero() {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithDeadline(gctx, deadline)
			defer cancel()
		}
		resp, err := fastcgi.Do(reqCtx, network, address, cfg.ConnectTimeout, fcgiReq)
		fcgiCh <- FastCGIResult{Response: resp, Err: err}
		return nil
	})

	select {
	case conn := <-connCh:
		return conn, nil
	case err := <-acceptDone:
		return nil, errors.E(fastcgiOp, err)
	case res := <-fcgiCh:
		// The FastCGI response arrived before the socket was accepted: the
		// handshake never completed.
		if res.Err != nil {
			return nil, errors.E(fastcgiOp, res.Err)
		}
		if cfg.OnLogError != nil && res.Response != nil && res.Response.AppStatus != 0 {
			cfg.OnLogError(fmt.Errorf("fastcgi app exited with status %d", res.Response.AppStatus))
		}
		return nil, errors.E(fastcgiOp, errors.Str(fmt.Sprintf(
			"handshake failed: fastcgi responded before control socket was accepted (app_status=%d, body=%q)",
			responseAppStatus(res.Response), responseBody(res.Response))))
	}
}

func responseAppStatus(r *fastcgi.Response) uint32 {
	if r == nil {
		return 0
	}
	return r.AppStatus
}

func responseBody(r *fastcgi.Response) string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

func parseFastCGIListen(listen string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(listen, "unix://"):
		return "unix", strings.TrimPrefix(listen, "unix://"), nil
	case strings.HasPrefix(listen, "tcp://"):
		return "tcp", strings.TrimPrefix(listen, "tcp://"), nil
	case listen == "":
		return "", "", errors.Str("php_fpm.listen is empty")
	default:
		return "tcp", listen, nil
	}
}

// keepAliveDeadline bounds the handshake's FastCGI request by the
// configured keep_alive_timeout, so a stalled worker cannot hang the
// spawn indefinitely.
func keepAliveDeadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
