package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/skosovsky/toolserve/config"
)

func TestNew_FileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolserve.log")
	l, err := New(config.LogConfig{Level: "warn", Format: "json", OutputPath: path})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry), "exactly one JSON line expected")
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "toolserve", entry["logger"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l, err := New(config.LogConfig{Level: "loud", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_BadPath(t *testing.T) {
	_, err := New(config.LogConfig{OutputPath: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}
