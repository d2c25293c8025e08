package main

import (
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/ubereeg/neuro"
)

func newRecorderFixture(t *testing.T, zeroPhase bool) (*Recorder, *neuro.Engine) {
	t.Helper()

	engine, err := neuro.NewEngine(neuro.DefaultConfig())
	require.NoError(t, err)

	cfg := &RecordingConfig{
		Dir:       t.TempDir(),
		Format:    "csv",
		ZeroPhase: zeroPhase,
	}
	recorder, err := NewRecorder(cfg, engine)
	require.NoError(t, err)
	return recorder, engine
}

func feedSamples(t *testing.T, engine *neuro.Engine, n int) {
	t.Helper()
	require.NoError(t, engine.Start())
	rate := engine.Config().SampleRate
	for i := 0; i < n; i++ {
		engine.Feed(float64(i%10), float64(i)/rate)
	}
	require.NoError(t, engine.Stop())
}

func TestRecorderEmptyBuffer(t *testing.T) {
	recorder, _ := newRecorderFixture(t, false)
	_, err := recorder.Save()
	assert.Error(t, err)
}

func TestRecorderUnsupportedFormat(t *testing.T) {
	recorder, engine := newRecorderFixture(t, false)
	feedSamples(t, engine, 100)

	_, err := recorder.SaveWindow(100, "parquet")
	assert.Error(t, err)
}

func TestRecorderSaveCSV(t *testing.T) {
	recorder, engine := newRecorderFixture(t, false)
	feedSamples(t, engine, 100)

	filename, err := recorder.SaveWindow(100, "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(filename, ".csv"))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 101)
	assert.Equal(t, []string{"sequence", "timestamp", "raw", "filtered", "is_event"}, rows[0])
	assert.Equal(t, "0", rows[1][0])
	assert.Equal(t, "99", rows[100][0])
}

func TestRecorderSaveJSON(t *testing.T) {
	recorder, engine := newRecorderFixture(t, false)
	feedSamples(t, engine, 100)

	filename, err := recorder.SaveWindow(100, "json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(filename, ".json.gz"))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var doc struct {
		Meta   RecordingMeta  `json:"meta"`
		Data   []neuro.Sample `json:"data"`
		Config neuro.Config   `json:"config"`
	}
	require.NoError(t, json.NewDecoder(gz).Decode(&doc))

	assert.NotEmpty(t, doc.Meta.ID)
	assert.Equal(t, 100, doc.Meta.Samples)
	assert.Equal(t, 250.0, doc.Meta.SampleRate)
	require.Len(t, doc.Data, 100)
	assert.Equal(t, uint64(0), doc.Data[0].Sequence)
	assert.Equal(t, 250.0, doc.Config.SampleRate)
}

func TestRecorderZeroPhase(t *testing.T) {
	recorder, engine := newRecorderFixture(t, true)
	feedSamples(t, engine, 500)

	filename, err := recorder.SaveWindow(500, "csv")
	require.NoError(t, err)

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 501)
}

func TestRecorderListRecordings(t *testing.T) {
	recorder, engine := newRecorderFixture(t, false)
	feedSamples(t, engine, 100)

	names, err := recorder.ListRecordings()
	require.NoError(t, err)
	assert.Empty(t, names)

	filename, err := recorder.SaveWindow(100, "csv")
	require.NoError(t, err)

	names, err = recorder.ListRecordings()
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, filepath.Base(filename), names[0])
}
