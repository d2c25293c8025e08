package main

import "github.com/cwsl/ubereeg/neuro"

// DeviceInfo describes the attached signal source for the API and MCP
// surfaces.
type DeviceInfo struct {
	Type       string  `json:"type"`
	Port       string  `json:"port,omitempty"`
	Connected  bool    `json:"connected"`
	SampleRate float64 `json:"sample_rate"`
}

// SignalSource is a device transport that decodes raw device output into
// numeric samples and feeds them to the engine, one at a time, in order.
type SignalSource interface {
	// Start opens the transport and begins the producer loop.
	Start() error
	// Stop terminates the producer loop and closes the transport. It is
	// safe to call Stop more than once.
	Stop()
	// Info returns the current device description.
	Info() DeviceInfo
}

// NewSignalSource builds the configured transport.
func NewSignalSource(cfg *Config, engine *neuro.Engine) SignalSource {
	if cfg.Device.Type == "serial" {
		return NewSerialDevice(&cfg.Device, engine)
	}
	return NewSimDevice(&cfg.Device, cfg.Engine.SampleRate, engine)
}
