package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 250.0, cfg.Engine.SampleRate)
	assert.Equal(t, 5.0, cfg.Engine.BufferSeconds)
	assert.Equal(t, 60.0, cfg.Engine.NotchHz)
	assert.Equal(t, "simulator", cfg.Device.Type)
	assert.Equal(t, 115200, cfg.Device.Baud)
	assert.Equal(t, ":8090", cfg.Server.Listen)
	assert.Equal(t, "csv", cfg.Recording.Format)
	assert.Equal(t, "ubereeg", cfg.MQTT.TopicPrefix)
}

func TestLoadConfig(t *testing.T) {
	yaml := `
engine:
  sample_rate: 500
  notch_hz: 50
device:
  type: serial
  port: /dev/ttyACM0
server:
  listen: ":9000"
recording:
  format: json
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// Explicit values survive, gaps take defaults.
	assert.Equal(t, 500.0, cfg.Engine.SampleRate)
	assert.Equal(t, 50.0, cfg.Engine.NotchHz)
	assert.Equal(t, 45.0, cfg.Engine.BandpassHighHz)
	assert.Equal(t, "serial", cfg.Device.Type)
	assert.Equal(t, "/dev/ttyACM0", cfg.Device.Port)
	assert.Equal(t, 115200, cfg.Device.Baud)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "json", cfg.Recording.Format)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: ["), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bandpass above Nyquist", func(c *Config) { c.Engine.BandpassHighHz = 200 }},
		{"serial without port", func(c *Config) { c.Device.Type = "serial" }},
		{"unknown device type", func(c *Config) { c.Device.Type = "bluetooth" }},
		{"unknown recording format", func(c *Config) { c.Recording.Format = "parquet" }},
		{"mqtt enabled without broker", func(c *Config) { c.MQTT.Enabled = true }},
		{"invalid mqtt qos", func(c *Config) { c.MQTT.QoS = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.SampleRate = 500
	cfg.Engine.ZThreshold = 4.5

	ec := cfg.EngineConfig()
	assert.Equal(t, 500.0, ec.SampleRate)
	assert.Equal(t, 4.5, ec.ZThreshold)
	assert.Equal(t, 2500, ec.BufferCapacity())
}
