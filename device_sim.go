package main

import (
	"log"
	"sync"
	"time"

	"github.com/cwsl/ubereeg/neuro"
)

// SimDevice drives the engine from the synthetic signal generator at the
// configured sample rate. Useful for development and demos without an EEG
// board attached; the feed path through the engine is identical to the
// serial transport's.
type SimDevice struct {
	cfg        *DeviceConfig
	sampleRate float64
	engine     *neuro.Engine
	sim        *neuro.Simulator

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSimDevice creates a simulator transport.
func NewSimDevice(cfg *DeviceConfig, sampleRate float64, engine *neuro.Engine) *SimDevice {
	return &SimDevice{
		cfg:        cfg,
		sampleRate: sampleRate,
		engine:     engine,
		sim:        neuro.NewSimulator(sampleRate, cfg.SimAmplitude, cfg.SimNoise, time.Now().UnixNano()),
	}
}

// Start launches the producer goroutine.
func (d *SimDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.running = true
	d.stopChan = make(chan struct{})
	d.wg.Add(1)
	go d.feedLoop(d.stopChan)
	log.Printf("Simulator: generating %.0f Hz synthetic signal", d.sampleRate)
	return nil
}

// Stop terminates the producer goroutine.
func (d *SimDevice) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopChan)
	d.mu.Unlock()
	d.wg.Wait()
}

// Info returns the device description.
func (d *SimDevice) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceInfo{
		Type:       "simulator",
		Connected:  d.running,
		SampleRate: d.sampleRate,
	}
}

// InjectSpike forwards a synthetic transient to the generator, firing the
// detector on demand.
func (d *SimDevice) InjectSpike(gain float64, samples int) {
	d.sim.InjectSpike(gain, samples)
}

// feedLoop emits batches of samples on a fixed tick, pacing the generator
// to real time.
func (d *SimDevice) feedLoop(stop chan struct{}) {
	defer d.wg.Done()

	const tick = 20 * time.Millisecond
	perTick := int(d.sampleRate * tick.Seconds())
	if perTick < 1 {
		perTick = 1
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for i := 0; i < perTick; i++ {
				d.engine.Feed(d.sim.Next(), float64(time.Now().UnixNano())/1e9)
			}
		}
	}
}
