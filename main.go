package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwsl/ubereeg/neuro"
)

// DebugMode enables verbose logging throughout the application
var DebugMode bool

// StartTime records when the server started, for uptime reporting
var StartTime time.Time

func main() {
	StartTime = time.Now()

	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	listPorts := flag.Bool("list-ports", false, "List available serial ports and exit")
	calibrateFor := flag.Float64("calibrate", 0, "Run a standalone calibration for N seconds and exit")
	recordFor := flag.Float64("record", 0, "Record a session for N seconds, save it and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	DebugMode = *debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		DebugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}
	if DebugMode {
		log.Println("Debug mode enabled")
	}

	if *showVersion {
		fmt.Printf("ubereeg %s\n", Version)
		return
	}

	if *listPorts {
		ports, err := ListSerialPorts()
		if err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	config, err := LoadConfig(*configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("No config file at %s, using defaults", *configFile)
			config = DefaultConfig()
		} else {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	engine, err := neuro.NewEngine(config.EngineConfig())
	if err != nil {
		log.Fatalf("Failed to create acquisition engine: %v", err)
	}
	device := NewSignalSource(config, engine)
	recorder, err := NewRecorder(&config.Recording, engine)
	if err != nil {
		log.Fatalf("Failed to create recorder: %v", err)
	}

	// Standalone one-shot modes share the engine/device wiring but skip
	// the HTTP server entirely.
	if *calibrateFor > 0 {
		runCalibration(engine, device, *calibrateFor)
		return
	}
	if *recordFor > 0 {
		runRecording(engine, device, recorder, *recordFor)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metrics *PrometheusMetrics
	if config.Prometheus.Enabled {
		metrics = NewPrometheusMetrics(engine)
		metrics.Start()
		defer metrics.Stop()
		log.Println("Prometheus: Metrics collection enabled")
	}

	wsHandler := NewSignalWebSocketHandler(engine, metrics)
	defer wsHandler.Stop()

	var mqttPublisher *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPublisher, err = NewMQTTPublisher(&config.MQTT, engine)
		if err != nil {
			log.Printf("MQTT: Failed to connect, continuing without publishing: %v", err)
			mqttPublisher = nil
		} else {
			mqttPublisher.StartPublisher(ctx)
		}
	}

	// Event observer chain: websocket push, MQTT publish, log line.
	engine.RegisterObserver(func(rec neuro.EventRecord) {
		wsHandler.NotifyEvent(rec)
		if mqttPublisher != nil {
			mqttPublisher.PublishEvent(rec)
		}
		log.Printf("Engine: Event #%d at %.2fs (|z|=%.1f)", rec.Number, rec.Elapsed, rec.MaxZ)
	})

	apiServer := NewAPIServer(config, engine, device, recorder)
	mux := http.NewServeMux()
	apiServer.Register(mux)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.HandleFunc("/health", handleHealth)

	if config.Prometheus.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if config.MCP.Enabled {
		mcpServer := NewMCPServer(config, engine, device, recorder)
		mux.HandleFunc("/mcp", mcpServer.HandleMCP)
		log.Println("MCP: Server enabled at /mcp")
	}

	if config.VersionCheck.Enabled {
		StartVersionChecker(ctx, config.VersionCheck)
	}

	server := &http.Server{
		Addr:    config.Server.Listen,
		Handler: mux,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")

		device.Stop()
		engine.Stop()
		cancel()

		if err := server.Close(); err != nil {
			log.Printf("Error closing server: %v", err)
		}
	}()

	log.Printf("ubereeg %s starting", Version)
	log.Printf("Device: %s", config.Device.Type)
	log.Printf("Server listening on %s", config.Server.Listen)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","version":%q}`+"\n", Version)
}

// runCalibration drives a single calibration pass from the command line.
func runCalibration(engine *neuro.Engine, device SignalSource, duration float64) {
	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	if err := device.Start(); err != nil {
		log.Fatalf("Failed to start device: %v", err)
	}
	defer func() {
		device.Stop()
		engine.Stop()
	}()

	log.Printf("Calibrating for %.1fs, stay relaxed...", duration)
	result, err := engine.Calibrate(duration)
	if err != nil {
		log.Fatalf("Calibration failed: %v", err)
	}
	fmt.Printf("Baseline mean:  %.4f\n", result.BaselineMean)
	fmt.Printf("Baseline std:   %.4f\n", result.BaselineStd)
	fmt.Printf("New threshold:  %.2f\n", result.Threshold)
	fmt.Printf("Samples used:   %d\n", result.Samples)
}

// runRecording streams for the given duration, logging events as they
// arrive, then saves the buffer to disk.
func runRecording(engine *neuro.Engine, device SignalSource, recorder *Recorder, duration float64) {
	engine.RegisterObserver(func(rec neuro.EventRecord) {
		log.Printf("Event #%d at %.2fs (|z|=%.1f)", rec.Number, rec.Elapsed, rec.MaxZ)
	})

	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	if err := device.Start(); err != nil {
		log.Fatalf("Failed to start device: %v", err)
	}

	log.Printf("Recording for %.1fs...", duration)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(time.Duration(duration * float64(time.Second))):
	case <-sigChan:
		log.Println("Interrupted, saving partial recording")
	}

	device.Stop()
	engine.Stop()

	filename, err := recorder.Save()
	if err != nil {
		log.Fatalf("Failed to save recording: %v", err)
	}
	snap := engine.Snapshot()
	log.Printf("Saved %s (%d samples, %d events)", filename, snap.TotalSamples, snap.EventCount)
}
