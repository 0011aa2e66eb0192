package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerConfig_WithDefaults(t *testing.T) {
	cfg := ServerConfig{ListenAddr: "127.0.0.1:8080", WriteTimeout: time.Second}.WithDefaults()

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.NotNil(t, cfg.Log)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, time.Second, cfg.WriteTimeout, "explicit values are kept")
	assert.Equal(t, DefaultShutdownDuration, cfg.GracefulShutdownDuration)
	assert.Zero(t, cfg.DrainDuration)
}
