package main

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/cwsl/ubereeg/neuro"
)

const serialReadTimeout = 100 * time.Millisecond

// SerialDevice reads newline-delimited integer samples from a serial EEG
// board and feeds them into the acquisition engine. One malformed line is
// logged and skipped; a run of consecutive decode failures (or a dead
// port) is treated as a systemic transport failure and stops the stream
// with a recorded cause.
type SerialDevice struct {
	cfg    *DeviceConfig
	engine *neuro.Engine

	mu        sync.Mutex
	port      serial.Port
	connected bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	parseErrors uint64
	lastLogTime time.Time
}

// NewSerialDevice creates a serial transport for the configured port.
func NewSerialDevice(cfg *DeviceConfig, engine *neuro.Engine) *SerialDevice {
	return &SerialDevice{cfg: cfg, engine: engine}
}

// Start opens the serial port and launches the producer goroutine.
func (d *SerialDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	mode := &serial.Mode{BaudRate: d.cfg.Baud}
	port, err := serial.Open(d.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.cfg.Port, err)
	}
	// The read timeout bounds how long Stop waits for the producer to
	// notice the stop signal.
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	d.port = port
	d.connected = true
	d.stopChan = make(chan struct{})
	d.wg.Add(1)
	go d.readLoop(port, d.stopChan)

	log.Printf("Serial: connected to %s at %d baud", d.cfg.Port, d.cfg.Baud)
	return nil
}

// Stop terminates the producer loop and closes the port.
func (d *SerialDevice) Stop() {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return
	}
	d.connected = false
	close(d.stopChan)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	if d.port != nil {
		d.port.Close()
		d.port = nil
	}
	d.mu.Unlock()
	log.Printf("Serial: disconnected from %s", d.cfg.Port)
}

// Info returns the device description.
func (d *SerialDevice) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceInfo{
		Type:       "serial",
		Port:       d.cfg.Port,
		Connected:  d.connected,
		SampleRate: d.engine.Config().SampleRate,
	}
}

// readLoop is the single producer: it assembles newline-delimited values
// from the port and feeds them to the engine with an arrival timestamp.
func (d *SerialDevice) readLoop(port serial.Port, stop chan struct{}) {
	defer d.wg.Done()

	buf := make([]byte, 256)
	var line []byte
	consecutiveErrors := 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			log.Printf("Serial: read failed: %v", err)
			d.engine.StopWithError(fmt.Errorf("serial transport failed: %w", err))
			d.teardown(stop)
			return
		}
		if n == 0 {
			// Read timeout; loop back to check the stop signal.
			continue
		}

		for _, b := range buf[:n] {
			if b != '\n' {
				line = append(line, b)
				continue
			}

			raw, perr := parseSampleLine(string(line))
			line = line[:0]
			if perr != nil {
				consecutiveErrors++
				d.logParseError(perr)
				if consecutiveErrors >= d.cfg.MaxReadErrors {
					log.Printf("Serial: %d consecutive decode errors, stopping stream", consecutiveErrors)
					d.engine.StopWithError(fmt.Errorf("serial decode failing persistently: %w", perr))
					d.teardown(stop)
					return
				}
				continue
			}

			consecutiveErrors = 0
			d.engine.Feed(raw, float64(time.Now().UnixNano())/1e9)
		}
	}
}

// teardown closes the port and marks the device disconnected after a
// terminal read failure, so the next Start reopens the port instead of
// hitting the already-connected guard with no producer running. When Stop
// initiated the shutdown (stop already closed) it owns the port teardown.
func (d *SerialDevice) teardown(stop chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-stop:
		return
	default:
	}

	d.connected = false
	if d.port != nil {
		d.port.Close()
		d.port = nil
	}
}

// logParseError rate-limits malformed-line logging so a noisy port cannot
// flood the log.
func (d *SerialDevice) logParseError(err error) {
	d.parseErrors++
	now := time.Now()
	if now.Sub(d.lastLogTime) > 5*time.Second {
		log.Printf("Serial: dropping malformed sample (%d total): %v", d.parseErrors, err)
		d.lastLogTime = now
	}
}

// parseSampleLine decodes one line of device output: a decimal integer
// from a 24-bit ADC, sign-extended when the device emits it unsigned.
func parseSampleLine(line string) (float64, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return 0, fmt.Errorf("empty line")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a sample value: %q", s)
	}
	if v > 0x800000 {
		v -= 0x1000000
	}
	return float64(v), nil
}

// ListSerialPorts returns the serial ports visible on this host.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}
