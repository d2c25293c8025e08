package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/cwsl/ubereeg/dsp"
	"github.com/cwsl/ubereeg/neuro"
)

// Recorder serializes engine snapshots to disk. The engine itself performs
// no file I/O; everything here works from copied sample windows.
type Recorder struct {
	cfg    *RecordingConfig
	engine *neuro.Engine
}

// RecordingMeta is embedded in JSON exports alongside the data arrays.
type RecordingMeta struct {
	ID         string  `json:"id"`
	CreatedAt  string  `json:"created_at"`
	SampleRate float64 `json:"sample_rate"`
	Samples    int     `json:"samples"`
	EventCount uint64  `json:"event_count"`
	ZeroPhase  bool    `json:"zero_phase"`
}

type recordingJSON struct {
	Meta   RecordingMeta       `json:"meta"`
	Data   []neuro.Sample      `json:"data"`
	Events []neuro.EventRecord `json:"events"`
	Config neuro.Config        `json:"config"`
}

// NewRecorder creates a recorder writing into the configured directory.
func NewRecorder(cfg *RecordingConfig, engine *neuro.Engine) (*Recorder, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	return &Recorder{cfg: cfg, engine: engine}, nil
}

// Save exports the entire available buffer window in the configured
// format and returns the written filename.
func (r *Recorder) Save() (string, error) {
	return r.SaveWindow(r.engine.Config().BufferCapacity(), r.cfg.Format)
}

// SaveWindow exports the n most recent samples in the given format.
func (r *Recorder) SaveWindow(n int, format string) (string, error) {
	window := r.engine.ExportWindow(n)
	if len(window) == 0 {
		return "", fmt.Errorf("no data to save")
	}

	// Optional offline re-filter: zero-phase filtering needs the whole
	// window, which is exactly why it never runs on the streaming path.
	if r.cfg.ZeroPhase {
		raw := make([]float64, len(window))
		for i, s := range window {
			raw[i] = s.Raw
		}
		cfg := r.engine.Config()
		refiltered, err := dsp.FiltFilt(dsp.PipelineConfig{
			SampleRate:     cfg.SampleRate,
			BandpassLowHz:  cfg.BandpassLowHz,
			BandpassHighHz: cfg.BandpassHighHz,
			NotchHz:        cfg.NotchHz,
			NotchQ:         cfg.NotchQ,
		}, raw)
		if err != nil {
			return "", fmt.Errorf("zero-phase refilter: %w", err)
		}
		for i := range window {
			window[i].Filtered = refiltered[i]
		}
	}

	stamp := time.Now().Format("20060102_150405")
	var filename string
	var err error
	switch format {
	case "csv":
		filename = filepath.Join(r.cfg.Dir, fmt.Sprintf("eeg_%s.csv", stamp))
		err = r.writeCSV(filename, window)
	case "json":
		filename = filepath.Join(r.cfg.Dir, fmt.Sprintf("eeg_%s.json.gz", stamp))
		err = r.writeJSON(filename, window)
	default:
		return "", fmt.Errorf("unsupported recording format %q", format)
	}
	if err != nil {
		return "", err
	}

	log.Printf("Recorder: saved %d samples to %s", len(window), filename)
	return filename, nil
}

// writeCSV writes one row per sample with an event marker column flagging
// the samples that triggered detection.
func (r *Recorder) writeCSV(filename string, window []neuro.Sample) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer f.Close()

	eventSeqs := make(map[uint64]bool)
	for _, ev := range r.engine.Events(0) {
		eventSeqs[ev.Sequence] = true
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"sequence", "timestamp", "raw", "filtered", "is_event"}); err != nil {
		return err
	}
	for _, s := range window {
		flag := "0"
		if eventSeqs[s.Sequence] {
			flag = "1"
		}
		row := []string{
			strconv.FormatUint(s.Sequence, 10),
			strconv.FormatFloat(s.Timestamp, 'f', 6, 64),
			strconv.FormatFloat(s.Raw, 'f', 6, 64),
			strconv.FormatFloat(s.Filtered, 'f', 6, 64),
			flag,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeJSON writes a gzipped JSON document with metadata, samples, events
// and the active configuration.
func (r *Recorder) writeJSON(filename string, window []neuro.Sample) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	doc := recordingJSON{
		Meta: RecordingMeta{
			ID:         uuid.New().String(),
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
			SampleRate: r.engine.Config().SampleRate,
			Samples:    len(window),
			EventCount: r.engine.EventCount(),
			ZeroPhase:  r.cfg.ZeroPhase,
		},
		Data:   window,
		Events: r.engine.Events(0),
		Config: r.engine.Config(),
	}

	enc := json.NewEncoder(gz)
	return enc.Encode(doc)
}

// ListRecordings returns the filenames present in the recording directory,
// newest first.
func (r *Recorder) ListRecordings() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].IsDir() {
			names = append(names, entries[i].Name())
		}
	}
	return names, nil
}
