package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cwsl/ubereeg/neuro"
)

// MCPServer exposes the acquisition engine over the Model Context
// Protocol: resources for signal/session/device state, tools for the
// control operations.
type MCPServer struct {
	config     *Config
	engine     *neuro.Engine
	device     SignalSource
	recorder   *Recorder
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(config *Config, engine *neuro.Engine, device SignalSource, recorder *Recorder) *MCPServer {
	m := &MCPServer{
		config:   config,
		engine:   engine,
		device:   device,
		recorder: recorder,
	}

	m.mcpServer = server.NewMCPServer(
		"ubereeg",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
	)

	m.registerResources()
	m.registerTools()

	m.httpServer = server.NewStreamableHTTPServer(m.mcpServer)
	return m
}

// HandleMCP handles MCP protocol requests over HTTP
func (m *MCPServer) HandleMCP(w http.ResponseWriter, r *http.Request) {
	m.httpServer.ServeHTTP(w, r)
}

func (m *MCPServer) registerResources() {
	m.mcpServer.AddResource(
		mcp.NewResource("eeg://signal", "Live signal window",
			mcp.WithResourceDescription("The most recent second of raw and filtered samples plus recent detected events. Empty while the engine is idle."),
			mcp.WithMIMEType("application/json"),
		),
		m.handleSignalResource,
	)

	m.mcpServer.AddResource(
		mcp.NewResource("eeg://session", "Session info",
			mcp.WithResourceDescription("Streaming state, event counters, stream start time and calibration status for the current session."),
			mcp.WithMIMEType("application/json"),
		),
		m.handleSessionResource,
	)

	m.mcpServer.AddResource(
		mcp.NewResource("eeg://device", "Device info",
			mcp.WithResourceDescription("Connected device type, port, sample rate and active detection parameters."),
			mcp.WithMIMEType("application/json"),
		),
		m.handleDeviceResource,
	)
}

func (m *MCPServer) registerTools() {
	m.mcpServer.AddTool(
		mcp.NewTool("connect_device",
			mcp.WithDescription("Open the configured signal source (serial port or simulator) without starting acquisition. Connecting is idempotent."),
		),
		m.handleConnectDevice,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("disconnect_device",
			mcp.WithDescription("Close the signal source. Stops the stream first if one is running."),
		),
		m.handleDisconnectDevice,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("start_stream",
			mcp.WithDescription("Start real-time signal acquisition: resets event counters, zeroes filter state and begins feeding samples from the configured device. Fails if the stream is already running."),
		),
		m.handleStartStream,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("stop_stream",
			mcp.WithDescription("Stop signal acquisition. The sample buffer and event log remain readable until the next start_stream."),
		),
		m.handleStopStream,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("calibrate_device",
			mcp.WithDescription("Record a baseline for the given duration and derive a new detection threshold from its statistics. Starts the stream for the calibration window if it is not already running, and restores the prior state afterwards."),
			mcp.WithNumber("duration",
				mcp.Description("Baseline recording duration in seconds (default: 10)"),
				mcp.DefaultNumber(10.0),
			),
		),
		m.handleCalibrate,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("save_recording",
			mcp.WithDescription("Export the current sample buffer to disk and return the filename."),
			mcp.WithString("format",
				mcp.Description("Output format: 'csv' or 'json' (gzipped JSON). Defaults to the configured format."),
			),
		),
		m.handleSaveRecording,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("list_serial_ports",
			mcp.WithDescription("List the serial ports visible on this host, for choosing a device port."),
		),
		m.handleListPorts,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("get_signal_stats",
			mcp.WithDescription("Get summary statistics for the current stream: event count, recent events, detection parameters and sample counters."),
			mcp.WithString("format",
				mcp.Description("Output format: 'json' for structured data or 'text' for a human-readable summary"),
				mcp.DefaultString("json"),
			),
		),
		m.handleSignalStats,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("set_detection_threshold",
			mcp.WithDescription("Update the z-score detection threshold while streaming continues. Takes effect on the next detector evaluation."),
			mcp.WithNumber("z_threshold",
				mcp.Description("New z-score threshold (must be positive)"),
				mcp.Required(),
			),
		),
		m.handleSetThreshold,
	)
}

// Resource handlers

func (m *MCPServer) handleSignalResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap := m.engine.Snapshot()

	payload := map[string]interface{}{
		"streaming":   snap.Streaming,
		"sample_rate": snap.Config.SampleRate,
		"window":      snap.Window,
		"events": map[string]interface{}{
			"count":  snap.EventCount,
			"recent": snap.LastEvents,
		},
	}
	return m.jsonResource(request.Params.URI, payload)
}

func (m *MCPServer) handleSessionResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap := m.engine.Snapshot()

	duration := 0.0
	if snap.Streaming && snap.StartTime > 0 {
		duration = float64(time.Now().UnixNano())/1e9 - snap.StartTime
	}
	calibrationStatus := "not_calibrated"
	if snap.Calibration != nil {
		calibrationStatus = "completed"
	}

	payload := map[string]interface{}{
		"streaming":          snap.Streaming,
		"event_count":        snap.EventCount,
		"duration":           duration,
		"start_time":         snap.StartTime,
		"total_samples":      snap.TotalSamples,
		"calibration_status": calibrationStatus,
		"calibration":        snap.Calibration,
	}
	if snap.LastError != "" {
		payload["last_error"] = snap.LastError
	}
	return m.jsonResource(request.Params.URI, payload)
}

func (m *MCPServer) handleDeviceResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap := m.engine.Snapshot()

	payload := map[string]interface{}{
		"device":              m.device.Info(),
		"detection_threshold": snap.Threshold,
		"cooldown_seconds":    snap.Cooldown,
		"config":              snap.Config,
	}
	return m.jsonResource(request.Params.URI, payload)
}

func (m *MCPServer) jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// Tool handlers

func (m *MCPServer) handleConnectDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := m.device.Start(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to connect device: %v", err)), nil
	}
	jsonData, err := json.MarshalIndent(m.device.Info(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal device info: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (m *MCPServer) handleDisconnectDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.device.Stop()
	m.engine.Stop()
	return mcp.NewToolResultText("Device disconnected"), nil
}

func (m *MCPServer) handleStartStream(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := m.engine.Start(); err != nil {
		if errors.Is(err, neuro.ErrAlreadyStreaming) {
			return mcp.NewToolResultError("Stream is already running"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start stream: %v", err)), nil
	}
	if err := m.device.Start(); err != nil {
		m.engine.StopWithError(err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start device: %v", err)), nil
	}
	return mcp.NewToolResultText("Stream started"), nil
}

func (m *MCPServer) handleStopStream(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.device.Stop()
	m.engine.Stop()
	snap := m.engine.Snapshot()
	return mcp.NewToolResultText(fmt.Sprintf("Stream stopped (%d events detected)", snap.EventCount)), nil
}

func (m *MCPServer) handleCalibrate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	duration := request.GetFloat("duration", 10.0)
	if duration <= 0 {
		return mcp.NewToolResultError("Duration must be positive"), nil
	}

	wasStreaming := m.engine.IsStreaming()
	if !wasStreaming {
		if err := m.engine.Start(); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start stream for calibration: %v", err)), nil
		}
		if err := m.device.Start(); err != nil {
			m.engine.StopWithError(err)
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start device for calibration: %v", err)), nil
		}
		defer func() {
			m.device.Stop()
			m.engine.Stop()
		}()
	}

	result, err := m.engine.Calibrate(duration)
	if err != nil {
		if errors.Is(err, neuro.ErrInsufficientData) {
			return mcp.NewToolResultError("Not enough data collected for calibration; threshold unchanged"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Calibration failed: %v", err)), nil
	}

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (m *MCPServer) handleSaveRecording(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", m.config.Recording.Format)

	filename, err := m.recorder.SaveWindow(m.engine.Config().BufferCapacity(), format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to save recording: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Recording saved to %s", filename)), nil
}

func (m *MCPServer) handleListPorts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ports, err := ListSerialPorts()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list serial ports: %v", err)), nil
	}
	jsonData, err := json.MarshalIndent(map[string]interface{}{"ports": ports}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal data: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (m *MCPServer) handleSignalStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")
	snap := m.engine.Snapshot()

	if format == "text" {
		state := "idle"
		if snap.Streaming {
			state = "streaming"
		}
		text := fmt.Sprintf("Signal Acquisition Status: %s\n\n", state)
		text += fmt.Sprintf("Events detected: %d\n", snap.EventCount)
		text += fmt.Sprintf("Samples acquired: %d\n", snap.TotalSamples)
		text += fmt.Sprintf("Detection threshold (z): %.2f\n", snap.Threshold)
		text += fmt.Sprintf("Cooldown: %.2fs\n", snap.Cooldown)
		if snap.Calibration != nil {
			text += fmt.Sprintf("Calibrated: baseline mean %.3f, std %.3f\n",
				snap.Calibration.BaselineMean, snap.Calibration.BaselineStd)
		}
		if n := len(snap.LastEvents); n > 0 {
			last := snap.LastEvents[n-1]
			text += fmt.Sprintf("Last event: #%d at %.2fs (|z|=%.1f)\n", last.Number, last.Elapsed, last.MaxZ)
		}
		return mcp.NewToolResultText(text), nil
	}

	payload := map[string]interface{}{
		"streaming":       snap.Streaming,
		"event_count":     snap.EventCount,
		"recent_events":   snap.LastEvents,
		"total_samples":   snap.TotalSamples,
		"dropped_samples": snap.DroppedSamples,
		"threshold":       snap.Threshold,
		"cooldown":        snap.Cooldown,
		"calibration":     snap.Calibration,
	}
	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal data: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (m *MCPServer) handleSetThreshold(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	z := request.GetFloat("z_threshold", 0)
	if err := m.engine.SetThreshold(z); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid threshold: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Detection threshold set to %.2f", z)), nil
}
