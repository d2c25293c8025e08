package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwsl/ubereeg/neuro"
)

// Config represents the application configuration
type Config struct {
	Engine       EngineConfig       `yaml:"engine"`
	Device       DeviceConfig       `yaml:"device"`
	Server       ServerConfig       `yaml:"server"`
	Recording    RecordingConfig    `yaml:"recording"`
	Prometheus   PrometheusConfig   `yaml:"prometheus"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	MCP          MCPConfig          `yaml:"mcp"`
	VersionCheck VersionCheckConfig `yaml:"version_check"`
}

// EngineConfig contains the acquisition and detection parameters
type EngineConfig struct {
	SampleRate           float64 `yaml:"sample_rate"`           // Device sample rate in Hz (default: 250)
	BufferSeconds        float64 `yaml:"buffer_seconds"`        // Ring buffer length in seconds (default: 5)
	BandpassLowHz        float64 `yaml:"bandpass_low_hz"`       // Bandpass low cutoff (default: 1)
	BandpassHighHz       float64 `yaml:"bandpass_high_hz"`      // Bandpass high cutoff (default: 45)
	NotchHz              float64 `yaml:"notch_hz"`              // Mains notch frequency, 60 or 50 (default: 60)
	NotchQ               float64 `yaml:"notch_q"`               // Notch quality factor (default: 30)
	DetectionWindow      int     `yaml:"detection_window"`      // Detection window in samples (default: 50, 200ms at 250Hz)
	ZThreshold           float64 `yaml:"z_threshold"`           // Z-score detection threshold (default: 50)
	CooldownSeconds      float64 `yaml:"cooldown_seconds"`      // Minimum interval between events (default: 0.5)
	CalibrationThreshold float64 `yaml:"calibration_threshold"` // Threshold applied by the fixed calibration policy (default: 5)
}

// DeviceConfig contains the signal source settings
type DeviceConfig struct {
	Type          string  `yaml:"type"`            // "serial" or "simulator" (default: simulator)
	Port          string  `yaml:"port"`            // Serial port path (e.g. /dev/ttyACM0)
	Baud          int     `yaml:"baud"`            // Serial baud rate (default: 115200)
	SimAmplitude  float64 `yaml:"sim_amplitude"`   // Simulator baseline amplitude (default: 20)
	SimNoise      float64 `yaml:"sim_noise"`       // Simulator noise stddev (default: 2)
	MaxReadErrors int     `yaml:"max_read_errors"` // Consecutive decode errors before the stream is stopped (default: 50)
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Listen     string `yaml:"listen"`      // HTTP listen address (default: :8090)
	EnableCORS bool   `yaml:"enable_cors"` // Add permissive CORS headers on API responses
}

// RecordingConfig contains export settings
type RecordingConfig struct {
	Dir       string `yaml:"dir"`        // Output directory (default: recordings)
	Format    string `yaml:"format"`     // "csv" or "json" (gzipped JSON, default: csv)
	ZeroPhase bool   `yaml:"zero_phase"` // Re-filter exported windows offline with zero-phase filtering
}

// PrometheusConfig contains metrics settings
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"` // Expose /metrics on the main listener
}

// MQTTConfig contains event/stats publishing settings
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`          // Enable/disable MQTT publishing
	Broker          string        `yaml:"broker"`           // MQTT broker URL (e.g., tcp://mqtt.example.com:1883)
	Username        string        `yaml:"username"`         // MQTT authentication username
	Password        string        `yaml:"password"`         // MQTT authentication password
	TopicPrefix     string        `yaml:"topic_prefix"`     // Topic prefix (default: ubereeg)
	PublishInterval int           `yaml:"publish_interval"` // Stats publishing interval in seconds (default: 30)
	QoS             byte          `yaml:"qos"`              // MQTT Quality of Service level (0, 1, or 2)
	Retain          bool          `yaml:"retain"`           // Retain flag for MQTT messages
	TLS             MQTTTLSConfig `yaml:"tls"`              // TLS/SSL settings
}

// MQTTTLSConfig contains TLS settings for the MQTT connection
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	Insecure   bool   `yaml:"insecure"` // Skip certificate verification
}

// MCPConfig contains Model Context Protocol settings
type MCPConfig struct {
	Enabled bool `yaml:"enabled"` // Enable/disable the /mcp endpoint
}

// VersionCheckConfig contains update check settings
type VersionCheckConfig struct {
	Enabled  bool `yaml:"enabled"`  // Periodically check GitHub for a newer release
	Interval int  `yaml:"interval"` // Check interval in minutes (default: 60)
}

// DefaultConfig returns a configuration with all defaults applied, used
// when no config file is present.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig reads and parses the YAML configuration file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.SampleRate == 0 {
		c.Engine.SampleRate = 250
	}
	if c.Engine.BufferSeconds == 0 {
		c.Engine.BufferSeconds = 5
	}
	if c.Engine.BandpassLowHz == 0 {
		c.Engine.BandpassLowHz = 1
	}
	if c.Engine.BandpassHighHz == 0 {
		c.Engine.BandpassHighHz = 45
	}
	if c.Engine.NotchHz == 0 {
		c.Engine.NotchHz = 60
	}
	if c.Engine.NotchQ == 0 {
		c.Engine.NotchQ = 30
	}
	if c.Engine.DetectionWindow == 0 {
		c.Engine.DetectionWindow = 50
	}
	if c.Engine.ZThreshold == 0 {
		c.Engine.ZThreshold = 50
	}
	if c.Engine.CooldownSeconds == 0 {
		c.Engine.CooldownSeconds = 0.5
	}
	if c.Engine.CalibrationThreshold == 0 {
		c.Engine.CalibrationThreshold = 5
	}

	if c.Device.Type == "" {
		c.Device.Type = "simulator"
	}
	if c.Device.Baud == 0 {
		c.Device.Baud = 115200
	}
	if c.Device.SimAmplitude == 0 {
		c.Device.SimAmplitude = 20
	}
	if c.Device.SimNoise == 0 {
		c.Device.SimNoise = 2
	}
	if c.Device.MaxReadErrors == 0 {
		c.Device.MaxReadErrors = 50
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8090"
	}

	if c.Recording.Dir == "" {
		c.Recording.Dir = "recordings"
	}
	if c.Recording.Format == "" {
		c.Recording.Format = "csv"
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "ubereeg"
	}
	if c.MQTT.PublishInterval == 0 {
		c.MQTT.PublishInterval = 30
	}

	if c.VersionCheck.Interval == 0 {
		c.VersionCheck.Interval = 60
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}

	switch c.Device.Type {
	case "serial":
		if c.Device.Port == "" {
			return fmt.Errorf("device.port must be set when device.type is serial")
		}
		if c.Device.Baud <= 0 {
			return fmt.Errorf("device.baud must be positive, got %d", c.Device.Baud)
		}
	case "simulator":
	default:
		return fmt.Errorf("unknown device.type %q (expected serial or simulator)", c.Device.Type)
	}

	switch c.Recording.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("unknown recording.format %q (expected csv or json)", c.Recording.Format)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when MQTT is enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	return nil
}

// EngineConfig maps the YAML engine section onto the core engine config.
func (c *Config) EngineConfig() neuro.Config {
	return neuro.Config{
		SampleRate:           c.Engine.SampleRate,
		BufferSeconds:        c.Engine.BufferSeconds,
		BandpassLowHz:        c.Engine.BandpassLowHz,
		BandpassHighHz:       c.Engine.BandpassHighHz,
		NotchHz:              c.Engine.NotchHz,
		NotchQ:               c.Engine.NotchQ,
		DetectionWindow:      c.Engine.DetectionWindow,
		ZThreshold:           c.Engine.ZThreshold,
		CooldownSeconds:      c.Engine.CooldownSeconds,
		CalibrationThreshold: c.Engine.CalibrationThreshold,
	}
}
