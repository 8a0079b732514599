package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
leds:
  count: 120
output:
  driver: none
boblight:
  enabled: false
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.LEDs.Count)
	assert.Equal(t, "none", cfg.Output.Driver)
	assert.False(t, cfg.Boblight.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, ":8080", cfg.API.Listen)
	assert.Equal(t, 250, cfg.Muxer.TickMs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateClamps(t *testing.T) {
	cfg := &Config{
		LEDs:     LEDs{Count: -5},
		Muxer:    Muxer{TickMs: 1},
		Boblight: Boblight{Priority: 255},
		Grabber:  Grabber{IntervalMs: 5, Priority: 0},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60, cfg.LEDs.Count)
	assert.Equal(t, 250, cfg.Muxer.TickMs)
	assert.Equal(t, 128, cfg.Boblight.Priority)
	assert.Equal(t, 250, cfg.Grabber.Priority)
	assert.Equal(t, 100, cfg.Grabber.IntervalMs)
	assert.Equal(t, "none", cfg.Output.Driver)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Output.Driver = "parallel"
	assert.Error(t, cfg.Validate())
}
