package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0", cfg.BindAddr)
	assert.Equal(t, 5900, cfg.VNCPort)
	assert.Equal(t, 8443, cfg.WSPort)
	assert.Equal(t, "/dev/video0", cfg.VideoPath)
	assert.Equal(t, "/dev/hidg0", cfg.KeyboardHIDPath)
	assert.Equal(t, "/dev/hidg1", cfg.MouseHIDPath)
	assert.False(t, cfg.TLSEnabled)
}

func TestLoadEnv_DefaultsLogLevelWhenUnset(t *testing.T) {
	os.Unsetenv("KVMRS_LOG_LEVEL")
	cfg := Default()
	require.NoError(t, LoadEnv(&cfg))
	assert.Equal(t, "info", cfg.Env.LogLevel)
}

func TestLoadEnv_OverridesLogLevelFromEnvironment(t *testing.T) {
	t.Setenv("KVMRS_LOG_LEVEL", "debug")
	cfg := Default()
	require.NoError(t, LoadEnv(&cfg))
	assert.Equal(t, "debug", cfg.Env.LogLevel)
}
