package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		envConfigFile, envListenAddr, envDomain, envLogLevel, envConnectionDir,
		envDefaultKernel, envExecutionTimeout, envGuestBin, envHistoryDSN, envCORSOrigins,
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.Domain != defaultDomain {
		t.Errorf("Domain = %q, want %q", cfg.Domain, defaultDomain)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.ConnectionDir != defaultConnectionDir {
		t.Errorf("ConnectionDir = %q, want %q", cfg.ConnectionDir, defaultConnectionDir)
	}
	if cfg.DefaultKernel != defaultKernel {
		t.Errorf("DefaultKernel = %q, want %q", cfg.DefaultKernel, defaultKernel)
	}
	if cfg.ExecutionTimeout != defaultExecutionTimeout {
		t.Errorf("ExecutionTimeout = %v, want %v", cfg.ExecutionTimeout, defaultExecutionTimeout)
	}
	if cfg.GuestBin != defaultGuestBin {
		t.Errorf("GuestBin = %q, want %q", cfg.GuestBin, defaultGuestBin)
	}
	if cfg.HistoryDSN != defaultHistoryDSN {
		t.Errorf("HistoryDSN = %q, want %q", cfg.HistoryDSN, defaultHistoryDSN)
	}
	if !slices.Equal(cfg.CORSOrigins, []string{"*"}) {
		t.Errorf("CORSOrigins = %v, want [*]", cfg.CORSOrigins)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDomain, "https://kernels.example.com/")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envExecutionTimeout, "5s")
	t.Setenv(envDefaultKernel, "go-process")
	t.Setenv(envCORSOrigins, "https://chat.openai.com, http://localhost:8000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.Domain != "https://kernels.example.com" {
		t.Errorf("Domain = %q, want trailing slash trimmed", cfg.Domain)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ExecutionTimeout != 5*time.Second {
		t.Errorf("ExecutionTimeout = %v, want 5s", cfg.ExecutionTimeout)
	}
	if cfg.DefaultKernel != "go-process" {
		t.Errorf("DefaultKernel = %q, want go-process", cfg.DefaultKernel)
	}
	want := []string{"https://chat.openai.com", "http://localhost:8000"}
	if !slices.Equal(cfg.CORSOrigins, want) {
		t.Errorf("CORSOrigins = %v, want %v", cfg.CORSOrigins, want)
	}
}

func TestLoadInvalidTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv(envExecutionTimeout, "soon")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid timeout")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "kernelgate.yaml")
	content := `
listen_addr: ":7000"
domain: "http://files.local"
log_level: warn
execution_timeout: 2m
history_dsn: /var/lib/kernelgate/history.db
cors_origins:
  - https://a.example
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigFile, path)
	t.Setenv(envListenAddr, ":7001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":7001" {
		t.Errorf("ListenAddr = %q, want env to win", cfg.ListenAddr)
	}
	if cfg.Domain != "http://files.local" {
		t.Errorf("Domain = %q, want value from file", cfg.Domain)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
	if cfg.ExecutionTimeout != 2*time.Minute {
		t.Errorf("ExecutionTimeout = %v, want 2m", cfg.ExecutionTimeout)
	}
	if cfg.HistoryDSN != "/var/lib/kernelgate/history.db" {
		t.Errorf("HistoryDSN = %q", cfg.HistoryDSN)
	}
	if cfg.GuestBin != defaultGuestBin {
		t.Errorf("GuestBin = %q, want default", cfg.GuestBin)
	}
	if !slices.Equal(cfg.CORSOrigins, []string{"https://a.example"}) {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)

	t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("listen_addr: [unclosed"), 0o600)
	t.Setenv(envConfigFile, bad)
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestEnsureConnectionDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	cfg := Config{ConnectionDir: dir}

	if err := cfg.EnsureConnectionDir(); err != nil {
		t.Fatalf("EnsureConnectionDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("connection dir not created: %v", err)
	}
	if err := cfg.EnsureConnectionDir(); err != nil {
		t.Errorf("second EnsureConnectionDir: %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, nil, 0o600)
	if err := (Config{ConnectionDir: file}).EnsureConnectionDir(); err == nil {
		t.Error("expected error when connection dir is a file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := ParseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("kernel started", "kernel_id", "K1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["kernel_id"] != "K1" {
		t.Errorf("kernel_id = %v, want K1", entry["kernel_id"])
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info message written at warn level: %s", buf.String())
	}
}
