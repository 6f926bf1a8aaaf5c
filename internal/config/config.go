// Package config loads server configuration from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr       = ":8000"
	defaultDomain           = "http://localhost:8000"
	defaultConnectionDir    = "/tmp/kernelgate_connection_files"
	defaultKernel           = "go"
	defaultExecutionTimeout = 60 * time.Second
	defaultGuestBin         = "kernelgate-guest"
	defaultHistoryDSN       = ":memory:"

	envConfigFile       = "KERNELGATE_CONFIG"
	envListenAddr       = "KERNELGATE_LISTEN_ADDR"
	envDomain           = "KERNELGATE_DOMAIN"
	envLogLevel         = "KERNELGATE_LOG_LEVEL"
	envConnectionDir    = "KERNELGATE_CONNECTION_DIR"
	envDefaultKernel    = "KERNELGATE_DEFAULT_KERNEL"
	envExecutionTimeout = "KERNELGATE_EXECUTION_TIMEOUT"
	envGuestBin         = "KERNELGATE_GUEST_BIN"
	envHistoryDSN       = "KERNELGATE_HISTORY_DSN"
	envCORSOrigins      = "KERNELGATE_CORS_ORIGINS"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	// Domain is the public base URL; image URLs are built under it.
	Domain   string
	LogLevel slog.Level
	// ConnectionDir holds kernel sockets and connection files.
	ConnectionDir    string
	DefaultKernel    string
	ExecutionTimeout time.Duration
	GuestBin         string
	HistoryDSN       string
	CORSOrigins      []string
}

// fileConfig mirrors Config in the YAML file. Empty fields keep defaults.
type fileConfig struct {
	ListenAddr       string   `yaml:"listen_addr"`
	Domain           string   `yaml:"domain"`
	LogLevel         string   `yaml:"log_level"`
	ConnectionDir    string   `yaml:"connection_dir"`
	DefaultKernel    string   `yaml:"default_kernel"`
	ExecutionTimeout string   `yaml:"execution_timeout"`
	GuestBin         string   `yaml:"guest_bin"`
	HistoryDSN       string   `yaml:"history_dsn"`
	CORSOrigins      []string `yaml:"cors_origins"`
}

// Load builds the configuration from defaults, then the YAML file named by
// KERNELGATE_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       defaultListenAddr,
		Domain:           defaultDomain,
		LogLevel:         slog.LevelInfo,
		ConnectionDir:    defaultConnectionDir,
		DefaultKernel:    defaultKernel,
		ExecutionTimeout: defaultExecutionTimeout,
		GuestBin:         defaultGuestBin,
		HistoryDSN:       defaultHistoryDSN,
		CORSOrigins:      []string{"*"},
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDomain); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv(envConnectionDir); v != "" {
		cfg.ConnectionDir = v
	}
	if v := os.Getenv(envDefaultKernel); v != "" {
		cfg.DefaultKernel = v
	}
	if v := os.Getenv(envExecutionTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envExecutionTimeout, err)
		}
		cfg.ExecutionTimeout = d
	}
	if v := os.Getenv(envGuestBin); v != "" {
		cfg.GuestBin = v
	}
	if v := os.Getenv(envHistoryDSN); v != "" {
		cfg.HistoryDSN = v
	}
	if v := os.Getenv(envCORSOrigins); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	cfg.Domain = strings.TrimRight(cfg.Domain, "/")
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.Domain != "" {
		c.Domain = fc.Domain
	}
	if fc.LogLevel != "" {
		c.LogLevel = ParseLogLevel(fc.LogLevel)
	}
	if fc.ConnectionDir != "" {
		c.ConnectionDir = fc.ConnectionDir
	}
	if fc.DefaultKernel != "" {
		c.DefaultKernel = fc.DefaultKernel
	}
	if fc.ExecutionTimeout != "" {
		d, err := time.ParseDuration(fc.ExecutionTimeout)
		if err != nil {
			return fmt.Errorf("config file execution_timeout: %w", err)
		}
		c.ExecutionTimeout = d
	}
	if fc.GuestBin != "" {
		c.GuestBin = fc.GuestBin
	}
	if fc.HistoryDSN != "" {
		c.HistoryDSN = fc.HistoryDSN
	}
	if len(fc.CORSOrigins) > 0 {
		c.CORSOrigins = fc.CORSOrigins
	}
	return nil
}

// EnsureConnectionDir creates the connection directory if needed.
func (c Config) EnsureConnectionDir() error {
	if err := os.MkdirAll(c.ConnectionDir, 0o700); err != nil {
		return fmt.Errorf("create connection dir: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseLogLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
