package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Device     DeviceConfig     `yaml:"device"`
	Scan       ScanConfig       `yaml:"scan"`
	Connection ConnectionConfig `yaml:"connection"`
	Pairing    PairingConfig    `yaml:"pairing"`
	Operation  OperationConfig  `yaml:"operation"`
	Navigation NavigationConfig `yaml:"navigation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	StatePath  string           `yaml:"state_path"`
}

// DeviceConfig selects the belt.
type DeviceConfig struct {
	Address     string `yaml:"address"`      // empty: last belt, then scan
	NamePattern string `yaml:"name_pattern"` // case-insensitive advertised-name regexp
	Adapter     string `yaml:"adapter"`      // BlueZ adapter, e.g. "hci0"
}

// ScanConfig holds scanner settings.
type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectionConfig holds connection timing and retry settings.
type ConnectionConfig struct {
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	DiscoveryTimeout    time.Duration `yaml:"discovery_timeout"`
	SupervisionTimeout  time.Duration `yaml:"supervision_timeout"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
	InitialAttempts     int           `yaml:"initial_attempts"`
	EstablishedAttempts int           `yaml:"established_attempts"`
}

// PairingConfig holds pairing settings.
type PairingConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// OperationConfig holds GATT operation settings.
type OperationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// NavigationConfig holds navigation settings.
type NavigationConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "navibelt")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		LogLevel: "info",
		Device: DeviceConfig{
			NamePattern: "(?i)^(naviguertel|feelspace)",
			Adapter:     "hci0",
		},
		Scan: ScanConfig{Timeout: 5 * time.Second},
		Connection: ConnectionConfig{
			ConnectTimeout:      10 * time.Second,
			DiscoveryTimeout:    10 * time.Second,
			SupervisionTimeout:  6 * time.Second,
			HandshakeTimeout:    15 * time.Second,
			ReconnectDelay:      500 * time.Millisecond,
			ReconnectMaxDelay:   5 * time.Second,
			InitialAttempts:     2,
			EstablishedAttempts: 5,
		},
		Pairing:    PairingConfig{Timeout: 20 * time.Second},
		Operation:  OperationConfig{Timeout: 5 * time.Second},
		Navigation: NavigationConfig{Debounce: 100 * time.Millisecond},
		StatePath:  filepath.Join(home, ".local", "share", "navibelt", "state.yaml"),
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in state_path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.StatePath = expandTilde(cfg.StatePath)

	return cfg, nil
}

const defaultHeader = `# navibelt configuration
# Durations use Go syntax (500ms, 10s). device.address pins one belt;
# leave it empty to reconnect to the last belt or scan for one.
`

// WriteDefault writes the default config to DefaultConfigPath unless a file
// already exists there. It returns the path written, or "" if nothing was
// written.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Device.NamePattern == "" {
		return fmt.Errorf("device.name_pattern must not be empty")
	}
	if _, err := regexp.Compile(c.Device.NamePattern); err != nil {
		return fmt.Errorf("device.name_pattern: %w", err)
	}
	if c.Device.Address != "" && !macPattern.MatchString(c.Device.Address) {
		return fmt.Errorf("device.address must look like AA:BB:CC:DD:EE:FF, got %q", c.Device.Address)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"scan.timeout", c.Scan.Timeout},
		{"connection.connect_timeout", c.Connection.ConnectTimeout},
		{"connection.discovery_timeout", c.Connection.DiscoveryTimeout},
		{"connection.supervision_timeout", c.Connection.SupervisionTimeout},
		{"connection.handshake_timeout", c.Connection.HandshakeTimeout},
		{"connection.reconnect_delay", c.Connection.ReconnectDelay},
		{"pairing.timeout", c.Pairing.Timeout},
		{"operation.timeout", c.Operation.Timeout},
		{"navigation.debounce", c.Navigation.Debounce},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectDelay {
		return fmt.Errorf("connection.reconnect_max_delay must be >= connection.reconnect_delay")
	}

	if c.Connection.InitialAttempts < 0 {
		return fmt.Errorf("connection.initial_attempts must be >= 0")
	}
	if c.Connection.EstablishedAttempts < 0 {
		return fmt.Errorf("connection.established_attempts must be >= 0")
	}

	if c.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}

	return nil
}

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
