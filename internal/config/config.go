// Package config loads the chat client configuration.
//
// Configuration is read from a YAML file. A missing file is not an error, every field has a default.
// Values may reference environment variables as ${VAR} or $VAR:
//
//	baseURL: "${CHAT_BACKEND}/api"
//	systemPrompt: "You are a helpful assistant."
//	archivePath: "~/.config/chatstream/archive.db"
//	historyPath: "~/.config/chatstream/history"
//	requestTimeout: "30s"
//	log:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// The CHATSTREAM_API_URL environment variable, when set, overrides baseURL.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BaseURLEnv overrides the configured backend base URL.
const BaseURLEnv = "CHATSTREAM_API_URL"

const (
	defaultBaseURL = "http://localhost:8000/api"
	appDirName     = "chatstream"
)

// Config is the chat client configuration.
type Config struct {
	BaseURL      string `yaml:"baseURL"`
	SystemPrompt string `yaml:"systemPrompt"`
	ArchivePath  string `yaml:"archivePath"`
	HistoryPath  string `yaml:"historyPath"`

	// RequestTimeout bounds CRUD requests. Streaming requests are bounded only by the caller.
	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"requestTimeout"`

	Log LogConfig `yaml:"log"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the default configuration file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(dir, appDirName, "config.yaml"), nil
}

// Load reads the configuration at path. If the file does not exist the defaults are returned.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finalize(Config{}, filepath.Dir(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	return Parse(f, filepath.Dir(path))
}

// Parse decodes a YAML configuration from r. Relative paths in the configuration are resolved against
// dir, which also holds the default archive and history files.
func Parse(r io.Reader, dir string) (Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	return finalize(cfg, dir)
}

func finalize(cfg Config, dir string) (Config, error) {
	if v := os.Getenv(BaseURLEnv); v != "" {
		cfg.BaseURL = v
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Config{}, fmt.Errorf("invalid baseURL %q", cfg.BaseURL)
	}

	if cfg.RequestTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.RequestTimeoutRaw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid requestTimeout: %w", err)
		}
		cfg.RequestTimeout = d
	}

	if cfg.ArchivePath == "" {
		cfg.ArchivePath = filepath.Join(dir, "archive.db")
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(dir, "history")
	}
	cfg.ArchivePath = resolvePath(cfg.ArchivePath, dir)
	cfg.HistoryPath = resolvePath(cfg.HistoryPath, dir)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := cfg.Log.level(); err != nil {
		return Config{}, err
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("invalid log format %q", cfg.Log.Format)
	}

	return cfg, nil
}

func resolvePath(p, dir string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", l.Level)
	}
	return lvl, nil
}

// Logger builds the root logger described by the configuration, writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
