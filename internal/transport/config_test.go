package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roadrunner-server/phpbridge/internal/transport"
)

func TestConfigUsesFastCGI(t *testing.T) {
	var cfg transport.Config
	assert.False(t, cfg.UsesFastCGI())

	cfg.FastCGI = &transport.FastCGIConfig{}
	assert.False(t, cfg.UsesFastCGI())

	cfg.FastCGI.Listen = "tcp://127.0.0.1:9000"
	assert.True(t, cfg.UsesFastCGI())
}
