package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Device.Adapter != "hci0" {
		t.Errorf("Device.Adapter = %q, want %q", cfg.Device.Adapter, "hci0")
	}
	if cfg.Device.Address != "" {
		t.Errorf("Device.Address = %q, want empty", cfg.Device.Address)
	}
	if cfg.Navigation.Debounce != 100*time.Millisecond {
		t.Errorf("Navigation.Debounce = %v, want 100ms", cfg.Navigation.Debounce)
	}
	if cfg.Connection.HandshakeTimeout != 15*time.Second {
		t.Errorf("Connection.HandshakeTimeout = %v, want 15s", cfg.Connection.HandshakeTimeout)
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("Metrics.Listen = %q, want empty", cfg.Metrics.Listen)
	}
	if !strings.HasSuffix(cfg.StatePath, filepath.Join("navibelt", "state.yaml")) {
		t.Errorf("StatePath = %q", cfg.StatePath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
log_level: debug
device:
  address: "AA:BB:CC:DD:EE:FF"
  adapter: hci1
scan:
  timeout: 8s
connection:
  reconnect_delay: 250ms
  established_attempts: 9
navigation:
  debounce: 200ms
metrics:
  listen: "127.0.0.1:9464"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Device.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Device.Address = %q", cfg.Device.Address)
	}
	if cfg.Device.Adapter != "hci1" {
		t.Errorf("Device.Adapter = %q, want %q", cfg.Device.Adapter, "hci1")
	}
	if cfg.Scan.Timeout != 8*time.Second {
		t.Errorf("Scan.Timeout = %v, want 8s", cfg.Scan.Timeout)
	}
	if cfg.Connection.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("Connection.ReconnectDelay = %v, want 250ms", cfg.Connection.ReconnectDelay)
	}
	if cfg.Connection.EstablishedAttempts != 9 {
		t.Errorf("Connection.EstablishedAttempts = %d, want 9", cfg.Connection.EstablishedAttempts)
	}
	if cfg.Navigation.Debounce != 200*time.Millisecond {
		t.Errorf("Navigation.Debounce = %v, want 200ms", cfg.Navigation.Debounce)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("Metrics.Listen = %q", cfg.Metrics.Listen)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	yamlContent := `
connection:
  connect_timeout: 3s
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if cfg.Connection.ConnectTimeout != 3*time.Second {
		t.Errorf("Connection.ConnectTimeout = %v, want 3s", cfg.Connection.ConnectTimeout)
	}
	if cfg.Connection.DiscoveryTimeout != def.Connection.DiscoveryTimeout {
		t.Errorf("Connection.DiscoveryTimeout = %v, want default %v", cfg.Connection.DiscoveryTimeout, def.Connection.DiscoveryTimeout)
	}
	if cfg.Device.NamePattern != def.Device.NamePattern {
		t.Errorf("Device.NamePattern = %q, want default", cfg.Device.NamePattern)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, "info")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("state_path: ~/belt/state.yaml\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := filepath.Join(home, "belt", "state.yaml")
	if cfg.StatePath != want {
		t.Errorf("StatePath = %q, want %q", cfg.StatePath, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("scan: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("scan:\n  timeout: soon\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for an unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			modify: func(c *Config) {},
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "empty name pattern",
			modify:  func(c *Config) { c.Device.NamePattern = "" },
			wantErr: "device.name_pattern",
		},
		{
			name:    "bad name pattern",
			modify:  func(c *Config) { c.Device.NamePattern = "([" },
			wantErr: "device.name_pattern",
		},
		{
			name:    "bad address",
			modify:  func(c *Config) { c.Device.Address = "belt-1" },
			wantErr: "device.address",
		},
		{
			name:   "lower-case address",
			modify: func(c *Config) { c.Device.Address = "aa:bb:cc:dd:ee:ff" },
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Scan.Timeout = 0 },
			wantErr: "scan.timeout",
		},
		{
			name:    "negative debounce",
			modify:  func(c *Config) { c.Navigation.Debounce = -time.Millisecond },
			wantErr: "navigation.debounce",
		},
		{
			name:    "max delay below delay",
			modify:  func(c *Config) { c.Connection.ReconnectMaxDelay = 100 * time.Millisecond },
			wantErr: "reconnect_max_delay",
		},
		{
			name:    "negative attempts",
			modify:  func(c *Config) { c.Connection.InitialAttempts = -1 },
			wantErr: "initial_attempts",
		},
		{
			name:   "zero attempts",
			modify: func(c *Config) { c.Connection.EstablishedAttempts = 0 },
		},
		{
			name:    "empty state path",
			modify:  func(c *Config) { c.StatePath = "" },
			wantErr: "state_path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != DefaultConfigPath() {
		t.Errorf("WriteDefault() path = %q, want %q", path, DefaultConfigPath())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Navigation.Debounce != 100*time.Millisecond {
		t.Errorf("written Navigation.Debounce = %v, want 100ms", cfg.Navigation.Debounce)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}

	again, err := WriteDefault()
	if err != nil {
		t.Fatalf("second WriteDefault() error = %v", err)
	}
	if again != "" {
		t.Errorf("second WriteDefault() path = %q, want empty", again)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in   string
		want string
	}{
		{"~/foo", filepath.Join(home, "foo")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
	}
	for _, tt := range tests {
		if got := expandTilde(tt.in); got != tt.want {
			t.Errorf("expandTilde(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
