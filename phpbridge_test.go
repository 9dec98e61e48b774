package phpbridge_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/phpbridge"
	"github.com/roadrunner-server/phpbridge/internal/transport"
)

func TestNewBridgeStartsUninitialized(t *testing.T) {
	b := phpbridge.New(&phpbridge.Config{})
	assert.Equal(t, transport.Uninitialized, b.State())
}

func TestPopFrameWithoutPushIsInvalidUsage(t *testing.T) {
	b := phpbridge.New(&phpbridge.Config{})
	err := b.PopFrame(context.Background())
	require.Error(t, err)
}

func TestEndStdoutWithoutPipedStdoutIsInvalidUsage(t *testing.T) {
	b := phpbridge.New(&phpbridge.Config{})
	err := b.EndStdout(context.Background())
	require.Error(t, err)
}

func TestNextStdoutNilBeforeInitialize(t *testing.T) {
	b := phpbridge.New(&phpbridge.Config{})
	assert.Nil(t, b.NextStdout())
}

func TestNewRegistersMetricsAgainstProvidedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = phpbridge.New(&phpbridge.Config{Registerer: reg})

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["phpbridge_live_handles"])
	assert.True(t, names["phpbridge_dispatch_reentry_level"])
	assert.True(t, names["phpbridge_control_channel_bytes_read_total"])
	assert.True(t, names["phpbridge_control_channel_bytes_written_total"])
	assert.True(t, names["phpbridge_fastcgi_pool_connections_in_use"])
}

func TestTwoBridgesDoNotCollideOnDefaultRegisterer(t *testing.T) {
	b1 := phpbridge.New(&phpbridge.Config{})
	b2 := phpbridge.New(&phpbridge.Config{})
	assert.NotNil(t, b1)
	assert.NotNil(t, b2)
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
		}
	}
	return -1
}

func TestLiveHandlesGaugeStartsAtZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = phpbridge.New(&phpbridge.Config{Registerer: reg})
	assert.Equal(t, float64(0), gatherValue(t, reg, "phpbridge_live_handles"))
}

func TestMetricsAccessorReturnsLiveCollectors(t *testing.T) {
	b := phpbridge.New(&phpbridge.Config{})
	liveHandles, reentryLevel := b.Metrics()
	assert.NotNil(t, liveHandles)
	assert.NotNil(t, reentryLevel)
}
