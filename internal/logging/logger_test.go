package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"turfie/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testApp = config.AppConfig{Name: "turfie", Environment: "test", Version: "0.1.0"}

func TestNew_Outputs(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		wantLevel zerolog.Level
	}{
		{"empty config", config.LoggingConfig{}, zerolog.InfoLevel},
		{"stderr debug", config.LoggingConfig{Level: "DEBUG", Output: "stderr"}, zerolog.DebugLevel},
		{"console warn", config.LoggingConfig{Level: " warn ", Format: "console"}, zerolog.WarnLevel},
		{"unknown level", config.LoggingConfig{Level: "loud"}, zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closer, err := New(tt.cfg, testApp)
			require.NoError(t, err)
			assert.Nil(t, closer)
			assert.Equal(t, tt.wantLevel, logger.GetLevel())
		})
	}
}

func TestNew_FileWritesBaseFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "turfie.log")
	logger, closer, err := New(config.LoggingConfig{Level: "info", Output: "file", FilePath: logPath}, testApp)
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info().Int64("venue_id", 3).Msg("reservation created")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &entry))
	assert.Equal(t, "turfie", entry["app"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "0.1.0", entry["version"])
	assert.Equal(t, "reservation created", entry["message"])
	assert.EqualValues(t, 3, entry["venue_id"])
}

func TestNew_FileRequiresPath(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Output: "file"}, testApp)
	assert.ErrorContains(t, err, "file_path")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	Component(&base, "engine").Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"engine"`)
}
