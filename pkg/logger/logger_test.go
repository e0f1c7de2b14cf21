package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dlqueue/pkg/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := NewWithWriter(&config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	return l, &buf
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestJSONOutputCarriesFields(t *testing.T) {
	l, buf := newBufferLogger(t)

	l.WithField("job_id", "abc").
		WithFields(map[string]interface{}{"active": 2, "retry": true}).
		InfoWithFields("Job admitted", map[string]interface{}{"position": 1})

	out := buf.String()
	assert.Contains(t, out, "Job admitted")
	assert.Contains(t, out, `"app":"dlqueue"`)
	assert.Contains(t, out, `"job_id":"abc"`)
	assert.Contains(t, out, `"active":2`)
	assert.Contains(t, out, `"retry":true`)
	assert.Contains(t, out, `"position":1`)
}

func TestWithErrorNilReturnsSameLogger(t *testing.T) {
	l, buf := newBufferLogger(t)
	assert.Equal(t, l, l.WithError(nil))

	l.WithError(errors.New("disk full")).Error("Snapshot write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestFieldTypes(t *testing.T) {
	l, buf := newBufferLogger(t)
	l.WithFields(map[string]interface{}{
		"int64":    int64(456),
		"float":    3.5,
		"time":     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"duration": 5 * time.Second,
		"strings":  []string{"a", "b"},
		"custom":   struct{ Name string }{Name: "x"},
	}).Info("all types")

	out := buf.String()
	assert.Contains(t, out, `"int64":456`)
	assert.Contains(t, out, `"strings":["a","b"]`)
	assert.Contains(t, out, `"custom":{"Name":"x"}`)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dlqueue.log")
	l, err := New(&config.LoggingConfig{Level: "info", File: path, FileOnly: true})
	require.NoError(t, err)

	l.Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestGlobalLogger(t *testing.T) {
	capture := NewTestLogger()
	SetLogger(capture)
	t.Cleanup(func() { SetLogger(NewNopLogger()) })

	Info("global info")
	WithField("k", "v").Warn("global warn")

	assert.True(t, capture.HasMessage("global info"))
	warns := capture.GetMessagesByLevel("WARN")
	require.Len(t, warns, 1)
	assert.Equal(t, "v", warns[0].Fields["k"])

	assert.Equal(t, Logger(capture), OrDefault(nil))
}

func TestTestLoggerSharesSinkAcrossDerivedLoggers(t *testing.T) {
	l := NewTestLogger()
	child := l.WithField("component", "queue").WithError(errors.New("boom"))
	child.ErrorWithFields("Job failed", map[string]interface{}{"job_id": "1"})

	msgs := l.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "queue", msgs[0].Fields["component"])
	assert.Equal(t, "1", msgs[0].Fields["job_id"])
	assert.EqualError(t, msgs[0].Error, "boom")
	assert.True(t, l.HasMessageContaining("failed"))

	l.Clear()
	assert.Empty(t, l.GetMessages())
}

func TestHelpersUseInjectedLogger(t *testing.T) {
	l := NewTestLogger()
	LogComponentStart(l, "pool", map[string]interface{}{"workers": 3})
	LogDownload(l, "job-1", "https://example.com/a", true, nil)
	LogDownload(l, "job-2", "https://example.com/b", false, errors.New("404"))
	LogComponentStop(l, "pool", "shutdown")

	assert.True(t, l.HasMessage("Component started"))
	assert.True(t, l.HasMessage("Download completed"))
	assert.True(t, l.HasMessage("Download failed"))
	assert.True(t, l.HasMessage("Component stopped"))
	assert.Equal(t, "45.5%", Percent(45.5))
}
