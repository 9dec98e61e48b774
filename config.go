// Package phpbridge wires the control channel, handle registry, dispatcher
// and proxy façade into one embeddable bridge to a PHP interpreter.
package phpbridge

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/transport"
)

// Config is the full, closed set of options an embedder supplies; nothing
// here is read from a file or environment variable.
type Config struct {
	// Logger receives structured logs from every layer. A nil Logger uses
	// zap.NewNop().
	Logger *zap.Logger

	// Registerer receives the bridge's prometheus collectors. A nil
	// Registerer gets a private prometheus.NewRegistry(), so an embedder
	// that doesn't care about metrics never needs to wire one up.
	Registerer prometheus.Registerer

	// Endpoint, Child and FastCGI mirror the transport package's options
	// directly; a non-nil FastCGI with a non-empty Listen selects the
	// FastCGI transport.
	Endpoint    transport.Endpoint
	Child       transport.ChildConfig
	FastCGI     *transport.FastCGIConfig
	InitPHPFile string

	// StdoutSink receives every byte of the interpreter's stdout as it is
	// produced, in addition to whatever NextReader callers capture. May be
	// nil to discard.
	StdoutSink io.Writer

	// HostOps answers reverse requests (property/method access into host
	// objects, global symbol resolution, function calls). Nil HostOps
	// means the bridge only ever issues forward requests and any reverse
	// request PHP sends back fails with an interpreter error.
	HostOps dispatch.HostOps
}

func (c *Config) transportConfig() *transport.Config {
	return &transport.Config{
		Child:       c.Child,
		FastCGI:     c.FastCGI,
		Endpoint:    c.Endpoint,
		InitPHPFile: c.InitPHPFile,
	}
}

func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func (c *Config) registerer() prometheus.Registerer {
	if c.Registerer != nil {
		return c.Registerer
	}
	return prometheus.NewRegistry()
}
