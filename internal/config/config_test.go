package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	t.Setenv("CHAT_HOST", "chat.example.com")
	t.Setenv(BaseURLEnv, "")

	configContent := `
baseURL: "https://${CHAT_HOST}/api/"
systemPrompt: "Be helpful."
archivePath: "data/archive.db"
requestTimeout: "15s"
log:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com/api", cfg.BaseURL)
	assert.Equal(t, "Be helpful.", cfg.SystemPrompt)
	assert.Equal(t, filepath.Join(tmpDir, "data/archive.db"), cfg.ArchivePath)
	assert.Equal(t, filepath.Join(tmpDir, "history"), cfg.HistoryPath)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(BaseURLEnv, "")

	cfg, err := Load(filepath.Join(tmpDir, "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, defaultBaseURL, cfg.BaseURL)
	assert.Equal(t, filepath.Join(tmpDir, "archive.db"), cfg.ArchivePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Zero(t, cfg.RequestTimeout)
}

func TestBaseURLEnvOverride(t *testing.T) {
	t.Setenv(BaseURLEnv, "http://override:9000/api")

	cfg, err := Parse(strings.NewReader(`baseURL: "http://file/api"`), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://override:9000/api", cfg.BaseURL)
}

func TestParseInvalid(t *testing.T) {
	t.Setenv(BaseURLEnv, "")

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "Bad URL", content: `baseURL: "not a url"`, wantErr: "invalid baseURL"},
		{name: "Bad scheme", content: `baseURL: "ftp://host/api"`, wantErr: "invalid baseURL"},
		{name: "Bad timeout", content: `requestTimeout: "soon"`, wantErr: "invalid requestTimeout"},
		{name: "Bad level", content: "log:\n  level: loud", wantErr: "invalid log level"},
		{name: "Bad format", content: "log:\n  format: xml", wantErr: "invalid log format"},
		{name: "Bad YAML", content: "baseURL: [", wantErr: "error decoding config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.content), t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogConfigLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "module", "test")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"module":"test"`)
}
