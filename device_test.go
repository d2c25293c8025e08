package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/cwsl/ubereeg/neuro"
)

// failingPort fails every read, simulating an unplugged device. Only the
// methods the read loop touches are implemented.
type failingPort struct {
	serial.Port
	closed bool
}

func (p *failingPort) Read(buf []byte) (int, error) {
	return 0, errors.New("device unplugged")
}

func (p *failingPort) Close() error {
	p.closed = true
	return nil
}

func TestParseSampleLine(t *testing.T) {
	tests := []struct {
		line string
		want float64
	}{
		{"12345", 12345},
		{"-200", -200},
		{"  512 \r", 512},
		{"0", 0},
		// 24-bit ADC values above the sign bit wrap negative.
		{"16777215", -1},
		{"8388609", -8388607},
		{"8388608", 8388608},
	}
	for _, tt := range tests {
		got, err := parseSampleLine(tt.line)
		require.NoError(t, err, "line %q", tt.line)
		assert.Equal(t, tt.want, got, "line %q", tt.line)
	}

	for _, bad := range []string{"", "   ", "abc", "1.5", "12 34"} {
		_, err := parseSampleLine(bad)
		assert.Error(t, err, "line %q", bad)
	}
}

func TestSimDeviceFeedsEngine(t *testing.T) {
	engine, err := neuro.NewEngine(neuro.DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	device := NewSimDevice(&cfg.Device, engine.Config().SampleRate, engine)

	require.NoError(t, engine.Start())
	require.NoError(t, device.Start())

	// Start while running is a no-op.
	require.NoError(t, device.Start())

	info := device.Info()
	assert.Equal(t, "simulator", info.Type)
	assert.True(t, info.Connected)
	assert.Equal(t, 250.0, info.SampleRate)

	// A couple of ticker intervals worth of samples should arrive.
	deadline := time.After(2 * time.Second)
	for engine.Snapshot().TotalSamples == 0 {
		select {
		case <-deadline:
			t.Fatal("no samples fed by simulator device")
		case <-time.After(20 * time.Millisecond):
		}
	}

	device.Stop()
	require.NoError(t, engine.Stop())
	assert.False(t, device.Info().Connected)

	// Stop while stopped is a no-op.
	device.Stop()
}

func TestSerialDeviceTearsDownOnReadFailure(t *testing.T) {
	engine, err := neuro.NewEngine(neuro.DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Device.Type = "serial"
	cfg.Device.Port = "/dev/ttyNONE0"
	d := NewSerialDevice(&cfg.Device, engine)

	require.NoError(t, engine.Start())

	// Wire the producer loop to a port that fails immediately, as Start
	// would after a successful open.
	port := &failingPort{}
	d.mu.Lock()
	d.port = port
	d.connected = true
	d.stopChan = make(chan struct{})
	d.mu.Unlock()
	d.wg.Add(1)
	go d.readLoop(port, d.stopChan)
	d.wg.Wait()

	// The terminal failure stops the stream with a cause and releases
	// the transport.
	snap := engine.Snapshot()
	assert.False(t, snap.Streaming)
	assert.NotEmpty(t, snap.LastError)
	assert.False(t, d.Info().Connected)
	assert.True(t, port.closed)

	// A later Start must attempt a fresh open rather than silently
	// succeeding with no producer running.
	assert.Error(t, d.Start())

	// Stop after the loop already tore down is a no-op.
	d.Stop()
}

func TestNewSignalSourceSelectsType(t *testing.T) {
	engine, err := neuro.NewEngine(neuro.DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	assert.Equal(t, "simulator", NewSignalSource(cfg, engine).Info().Type)

	cfg.Device.Type = "serial"
	cfg.Device.Port = "/dev/ttyACM0"
	assert.Equal(t, "serial", NewSignalSource(cfg, engine).Info().Type)
}
