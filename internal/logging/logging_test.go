package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew_Disabled tests that a disabled logger writes nothing.
func TestNew_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := New(Options{Output: &buf})
	require.NoError(t, err)
	l.Error("dropped")
	assert.Zero(t, buf.Len())
	require.NoError(t, closer())
}

// TestNew_LevelAndFormat tests level filtering and JSON output.
func TestNew_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Options{Enabled: true, Level: "warn", Format: "json", Output: &buf})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("compaction skipped", "frame", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "compaction skipped", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.InDelta(t, 7, rec["frame"], 0)
}

// TestNew_Errors tests rejection of unknown levels and formats.
func TestNew_Errors(t *testing.T) {
	_, _, err := New(Options{Enabled: true, Level: "loud"})
	require.ErrorContains(t, err, "level")
	_, _, err = New(Options{Enabled: true, Format: "xml", Output: &bytes.Buffer{}})
	require.ErrorContains(t, err, "format")
}

// TestInit_LogDir tests file logging and retention cleanup.
func TestInit_LogDir(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, logPrefix+time.Now().AddDate(0, 0, -retentionDays-1).Format("2006-01-02")+logSuffix)
	keep := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(old, nil, 0o600))
	require.NoError(t, os.WriteFile(keep, nil, 0o600))

	closer, err := Init(Options{Enabled: true, LogDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { L = Discard() })
	Info("started", "banks", 2)
	require.NoError(t, closer())

	assert.NoFileExists(t, old)
	assert.FileExists(t, keep)
	data, err := os.ReadFile(filepath.Join(dir, logPrefix+time.Now().Format("2006-01-02")+logSuffix))
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=started banks=2")
}
