package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "json to stdout",
			config: Config{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name:   "text to stderr",
			config: Config{Level: "debug", Format: "text", Output: "stderr"},
		},
		{
			name:   "level is case insensitive",
			config: Config{Level: "WARN"},
		},
		{
			name:    "invalid level",
			config:  Config{Level: "trace"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  Config{Format: "xml"},
			wantErr: true,
		},
		{
			name:   "defaults applied",
			config: Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.Equal(t, Config{Level: "info", Format: "text", Output: "stderr"}, cfg)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.log")

	logger, err := New(Config{Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("hello", "step", "Database(0)")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"step":"Database(0)"`)
}

func TestNewWithWriter_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Equal(t, "warn", logger.Config().Level)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
