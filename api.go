package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cwsl/ubereeg/neuro"
)

// APIServer exposes the engine's control and query operations over HTTP.
// Every handler works on snapshots or returns typed engine errors; none of
// them can block the acquisition producer beyond the engine's bounded
// critical section.
type APIServer struct {
	config   *Config
	engine   *neuro.Engine
	device   SignalSource
	recorder *Recorder
}

// NewAPIServer creates the REST handler set.
func NewAPIServer(config *Config, engine *neuro.Engine, device SignalSource, recorder *Recorder) *APIServer {
	return &APIServer{
		config:   config,
		engine:   engine,
		device:   device,
		recorder: recorder,
	}
}

// Register attaches all API routes to the mux.
func (a *APIServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", a.wrap(a.handleStatus))
	mux.HandleFunc("/api/snapshot", a.wrap(a.handleSnapshot))
	mux.HandleFunc("/api/events", a.wrap(a.handleEvents))
	mux.HandleFunc("/api/window", a.wrap(a.handleWindow))
	mux.HandleFunc("/api/start", a.wrap(a.handleStart))
	mux.HandleFunc("/api/stop", a.wrap(a.handleStop))
	mux.HandleFunc("/api/calibrate", a.wrap(a.handleCalibrate))
	mux.HandleFunc("/api/save", a.wrap(a.handleSave))
	mux.HandleFunc("/api/recordings", a.wrap(a.handleRecordings))
	mux.HandleFunc("/api/ports", a.wrap(a.handlePorts))
	mux.HandleFunc("/api/config", a.wrap(a.handleConfig))
	mux.HandleFunc("/api/threshold", a.wrap(a.handleThreshold))
}

func (a *APIServer) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.config.Server.EnableCORS {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: failed to encode response: %v", err)
	}
}

func writeAPIError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.engine.Snapshot()
	status := map[string]interface{}{
		"streaming":       snap.Streaming,
		"start_time":      snap.StartTime,
		"event_count":     snap.EventCount,
		"total_samples":   snap.TotalSamples,
		"dropped_samples": snap.DroppedSamples,
		"threshold":       snap.Threshold,
		"cooldown":        snap.Cooldown,
		"device":          a.device.Info(),
		"version":         Version,
		"uptime_seconds":  time.Since(StartTime).Seconds(),
	}
	if snap.LastError != "" {
		status["last_error"] = snap.LastError
	}
	if latest := GetLatestVersion(); latest != "" {
		status["latest_version"] = latest
		status["update_available"] = IsUpdateAvailable()
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *APIServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeAPIError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_count": a.engine.EventCount(),
		"events":      a.engine.Events(n),
	})
}

func (a *APIServer) handleWindow(w http.ResponseWriter, r *http.Request) {
	n := int(a.engine.Config().SampleRate)
	if s := r.URL.Query().Get("samples"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			writeAPIError(w, http.StatusBadRequest, fmt.Errorf("invalid samples %q", s))
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"window": a.engine.ExportWindow(n),
	})
}

func (a *APIServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	if err := a.engine.Start(); err != nil {
		if errors.Is(err, neuro.ErrAlreadyStreaming) {
			writeAPIError(w, http.StatusConflict, err)
			return
		}
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}
	if err := a.device.Start(); err != nil {
		a.engine.StopWithError(err)
		writeAPIError(w, http.StatusBadGateway, err)
		return
	}
	log.Printf("API: stream started")
	writeJSON(w, http.StatusOK, map[string]string{"status": "streaming"})
}

func (a *APIServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	a.device.Stop()
	a.engine.Stop()
	log.Printf("API: stream stopped")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *APIServer) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	duration := 10.0
	if s := r.URL.Query().Get("duration"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			writeAPIError(w, http.StatusBadRequest, fmt.Errorf("invalid duration %q", s))
			return
		}
		duration = v
	}

	wasStreaming := a.engine.IsStreaming()
	if !wasStreaming {
		// The engine starts itself for calibration, but the transport must
		// be producing samples too.
		if err := a.engine.Start(); err != nil {
			writeAPIError(w, http.StatusInternalServerError, err)
			return
		}
		if err := a.device.Start(); err != nil {
			a.engine.StopWithError(err)
			writeAPIError(w, http.StatusBadGateway, err)
			return
		}
		defer func() {
			a.device.Stop()
			a.engine.Stop()
		}()
	}

	result, err := a.engine.Calibrate(duration)
	if err != nil {
		if errors.Is(err, neuro.ErrInsufficientData) {
			writeAPIError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}
	log.Printf("API: calibration complete (mean=%.3f std=%.3f threshold=%.2f)",
		result.BaselineMean, result.BaselineStd, result.Threshold)
	writeJSON(w, http.StatusOK, result)
}

func (a *APIServer) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	format := a.config.Recording.Format
	if f := r.URL.Query().Get("format"); f != "" {
		format = f
	}
	filename, err := a.recorder.SaveWindow(a.engine.Config().BufferCapacity(), format)
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": filename})
}

func (a *APIServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	names, err := a.recorder.ListRecordings()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recordings": names})
}

func (a *APIServer) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := ListSerialPorts()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ports": ports})
}

func (a *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Config())
}

// handleThreshold updates detection parameters while streaming continues;
// the next detector evaluation sees the new values.
func (a *APIServer) handleThreshold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}

	var req struct {
		ZThreshold      *float64 `json:"z_threshold"`
		CooldownSeconds *float64 `json:"cooldown_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if req.ZThreshold != nil {
		if err := a.engine.SetThreshold(*req.ZThreshold); err != nil {
			writeAPIError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.CooldownSeconds != nil {
		if err := a.engine.SetCooldown(*req.CooldownSeconds); err != nil {
			writeAPIError(w, http.StatusBadRequest, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]float64{
		"z_threshold":      a.engine.Threshold(),
		"cooldown_seconds": a.engine.Snapshot().Cooldown,
	})
}
