package phpbridge

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/handle"
	"github.com/roadrunner-server/phpbridge/internal/iostream"
	"github.com/roadrunner-server/phpbridge/internal/phperr"
	"github.com/roadrunner-server/phpbridge/internal/transport"
	"github.com/roadrunner-server/phpbridge/proxy"
)

const op = errors.Op("phpbridge")

// Bridge owns one PHP interpreter's lifecycle: spawning or attaching the
// transport, driving the control channel, and exposing the global/class
// façades callers use to reach into the interpreter.
type Bridge struct {
	cfg *Config
	log *zap.Logger

	state   transport.StateBox
	session *transport.Session

	registry *handle.Registry
	frames   *handle.FrameStack
	disp     *dispatch.Dispatcher
	global   *proxy.Global
	mux      *iostream.Multiplexer

	collectors *collectors
}

// New builds a Bridge from cfg. The interpreter is not spawned until
// Initialize is called.
func New(cfg *Config) *Bridge {
	log := cfg.logger()
	b := &Bridge{
		cfg:    cfg,
		log:    log,
		frames: handle.NewFrameStack(),
	}
	b.registry = handle.New(log, b, struct{}{})
	b.collectors = newCollectors(cfg.registerer(), func() float64 {
		return float64(b.registry.LiveCount())
	}, func() float64 {
		if b.disp == nil {
			return 0
		}
		return float64(b.disp.Level())
	})
	return b
}

// Initialize spawns (or respawns, after a prior Terminate) the configured
// transport and brings the control channel up. Calling Initialize on an
// already-initialized bridge is a no-op.
func (b *Bridge) Initialize(ctx context.Context) error {
	switch b.state.Load() {
	case transport.Initialized:
		return nil
	case transport.Terminated:
		b.state.ResetIfTerminated()
	}
	b.state.Store(transport.Initializing)

	session, err := transport.Spawn(ctx, b.cfg.transportConfig(), b.log)
	if err != nil {
		b.state.Store(transport.InitFailed)
		return errors.E(op, err)
	}
	b.session = session

	channel := transport.Channel(&countingChannel{ReadWriteCloser: session.Channel, c: b.collectors})
	b.disp = dispatch.New(channel, b.registry, b.cfg.HostOps, b.log)
	b.global = proxy.NewGlobal(b.disp)

	if session.Stdout != nil {
		b.mux = iostream.NewMultiplexer(ctx, b.log, session.Stdout, session.Sentinel, b.cfg.StdoutSink)
	}

	b.state.Store(transport.Initialized)
	return nil
}

// Terminate tears the session down, clears the handle registry and moves
// state to Terminated; a later Initialize resets it to Uninitialized and
// respawns cleanly.
func (b *Bridge) Terminate() (exitCode int, err error) {
	defer func() {
		b.registry.Clear(context.Background())
		b.state.Store(transport.Terminated)
	}()

	if b.mux != nil {
		b.mux.Cancel()
		b.mux = nil
	}
	if b.session == nil {
		return 0, nil
	}
	return b.session.Terminate()
}

// Global returns the façade over PHP global constants, variables, and
// functions.
func (b *Bridge) Global() *proxy.Global { return b.global }

// Class starts a class façade rooted at a fully-qualified class name.
func (b *Bridge) Class(name string) *proxy.ClassPath { return b.global.Cls(name) }

// NObjects asks PHP how many handles it currently holds live.
func (b *Bridge) NObjects(ctx context.Context) (int64, error) {
	return b.global.NObjects(ctx)
}

// PushFrame opens a new handle scope: every handle PHP allocates after this
// call is released in bulk by the matching PopFrame.
func (b *Bridge) PushFrame() {
	b.frames.Push(b.registry.HighWaterMark())
}

// PopFrame closes the most recently opened handle scope, asking PHP to
// destruct every handle it allocated since the matching PushFrame.
func (b *Bridge) PopFrame(ctx context.Context) error {
	marker, ok := b.frames.Pop()
	if !ok {
		return errors.E(op, &phperr.InvalidUsageError{Reason: "PopFrame called with no open frame"})
	}
	return b.global.PopFrame(ctx, marker)
}

// EndStdout asks PHP to emit the stdout sentinel inline, closing the
// current multiplexer view. It is only valid when the child-process
// transport's stdout is piped; FastCGI sessions and inherited stdout have
// no multiplexer to close.
func (b *Bridge) EndStdout(ctx context.Context) error {
	if b.mux == nil {
		return errors.E(op, &phperr.InvalidUsageError{Reason: "EndStdout requires a piped child-process stdout"})
	}
	return b.global.EndStdout(ctx)
}

// NextStdout returns a reader for the bytes the interpreter writes to stdout
// from this call until its next sentinel, or nil if stdout was not piped.
// Bytes written while no reader is open reach only StdoutSink.
func (b *Bridge) NextStdout() *iostream.Reader {
	if b.mux == nil {
		return nil
	}
	return b.mux.NextReader()
}

// State reports the current connection state, primarily for diagnostics.
func (b *Bridge) State() transport.State { return b.state.Load() }

// Metrics exposes the prometheus collectors backing live-handle count and
// dispatcher re-entry depth, in case an embedder wants to read them directly
// rather than scrape the Registerer. The control-channel byte counters are
// not returned here; they are only reachable through the Registerer.
func (b *Bridge) Metrics() (liveHandles, reentryLevel prometheus.Collector) {
	return b.collectors.liveHandles, b.collectors.reentryLevel
}

func (b *Bridge) String() string {
	return fmt.Sprintf("phpbridge.Bridge{state=%s}", b.state.Load())
}
