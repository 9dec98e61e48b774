package phpbridge

import (
	"io"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// collectors holds every gauge/counter the bridge exposes. All of them are
// registered against the Registerer passed to Config, or a private
// prometheus.NewRegistry() when none is given, so embedding two bridges in
// one process never collides on metric names.
type collectors struct {
	liveHandles     prometheus.GaugeFunc
	reentryLevel    prometheus.GaugeFunc
	bytesRead       prometheus.CounterFunc
	bytesWritten    prometheus.CounterFunc
	fastcgiInUse    prometheus.Gauge
	bytesReadTotal  atomic.Int64
	bytesWriteTotal atomic.Int64
}

func newCollectors(reg prometheus.Registerer, liveHandles func() float64, reentryLevel func() float64) *collectors {
	c := &collectors{}

	c.liveHandles = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "phpbridge",
		Name:      "live_handles",
		Help:      "Number of host object handles currently registered.",
	}, liveHandles)

	c.reentryLevel = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "phpbridge",
		Name:      "dispatch_reentry_level",
		Help:      "Current reverse-request re-entry depth of the dispatcher.",
	}, reentryLevel)

	c.bytesRead = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "phpbridge",
		Name:      "control_channel_bytes_read_total",
		Help:      "Bytes read from the control channel.",
	}, func() float64 { return float64(c.bytesReadTotal.Load()) })

	c.bytesWritten = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "phpbridge",
		Name:      "control_channel_bytes_written_total",
		Help:      "Bytes written to the control channel.",
	}, func() float64 { return float64(c.bytesWriteTotal.Load()) })

	c.fastcgiInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "phpbridge",
		Name:      "fastcgi_pool_connections_in_use",
		Help:      "FastCGI pool connections currently checked out.",
	})

	for _, col := range []prometheus.Collector{c.liveHandles, c.reentryLevel, c.bytesRead, c.bytesWritten, c.fastcgiInUse} {
		_ = reg.Register(col)
	}

	return c
}

// countingChannel wraps a duplex channel, tallying bytes moved in each
// direction into the bridge's metrics.
type countingChannel struct {
	io.ReadWriteCloser
	c *collectors
}

func (cc *countingChannel) Read(p []byte) (int, error) {
	n, err := cc.ReadWriteCloser.Read(p)
	cc.c.bytesReadTotal.Add(int64(n))
	return n, err
}

func (cc *countingChannel) Write(p []byte) (int, error) {
	n, err := cc.ReadWriteCloser.Write(p)
	cc.c.bytesWriteTotal.Add(int64(n))
	return n, err
}
