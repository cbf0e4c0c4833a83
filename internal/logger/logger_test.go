package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_FileSink(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "importer.log")

	log, err := New("production", "info", file)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("record committed", zap.String("sku", "TRAIL-HOODIE"), zap.Int("index", 3))
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "record committed", entry["msg"])
	assert.Equal(t, "TRAIL-HOODIE", entry["sku"])
	assert.Equal(t, float64(3), entry["index"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("development", "loud", "")
	assert.Error(t, err)
}

func TestInit_ReplacesGlobals(t *testing.T) {
	before := zap.L()
	flush, err := Init("development", "debug", "")
	require.NoError(t, err)

	assert.NotSame(t, before, zap.L())
	flush()
	assert.Same(t, before, zap.L())
}
