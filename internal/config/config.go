package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Ledger selects and locates the attendance store.
type Ledger struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `toml:"driver"`
	// DSN is the postgres connection string or an explicit sqlite file path.
	// When empty with the sqlite driver, <data_dir>/attendance.db is used.
	DSN           string `toml:"dsn"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	MaxOpenConns  int    `toml:"max_open_conns"`
}

// Attendance contains the closed set of time slots tracked per event.
type Attendance struct {
	Slots []string `toml:"slots"`
}

// Station identifies this scanning station and what it records.
type Station struct {
	ID       string `toml:"id"`
	Operator string `toml:"operator"`
	EventID  string `toml:"event_id"`
	Slot     string `toml:"slot"`
}

// Capture contains camera and scan loop settings.
type Capture struct {
	DeviceIndex               int    `toml:"device_index"`
	Width                     int    `toml:"width"`
	Height                    int    `toml:"height"`
	FPS                       int    `toml:"fps"`
	FFmpegBinary              string `toml:"ffmpeg_binary"`
	CooldownMS                int    `toml:"cooldown_ms"`
	OpenTimeoutSeconds        int    `toml:"open_timeout_seconds"`
	StopTimeoutMS             int    `toml:"stop_timeout_ms"`
	WriteTimeoutSeconds       int    `toml:"write_timeout_seconds"`
	MaxConsecutiveFrameErrors int    `toml:"max_consecutive_frame_errors"`
	PreviewEvery              int    `toml:"preview_every"`
	PreviewFormat             string `toml:"preview_format"`
	PreviewWidth              int    `toml:"preview_width"`
	PreviewQuality            int    `toml:"preview_quality"`
	DebugOverlay              bool   `toml:"debug_overlay"`
	Autostart                 bool   `toml:"autostart"`
	HotplugMonitor            bool   `toml:"hotplug_monitor"`
}

// Poller contains change detection timing.
type Poller struct {
	IntervalMS    int `toml:"interval_ms"`
	StopTimeoutMS int `toml:"stop_timeout_ms"`
	RecentLimit   int `toml:"recent_limit"`
}

// API contains the observer HTTP API settings. An empty bind disables it.
type API struct {
	Bind         string `toml:"bind"`
	Token        string `toml:"token"`
	FeedCapacity int    `toml:"feed_capacity"`
}

// Redis contains the optional feed fan-out to remote displays.
type Redis struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Channel string `toml:"channel"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for qrattend.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Ledger: attendance store backend
//   - Attendance: configured time slots
//   - Station: station identity and the event/slot it records
//   - Capture: camera, debounce and preview settings
//   - Poller: change detection interval
//   - API: observer HTTP API
//   - Redis: feed fan-out for remote displays
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Ledger     Ledger     `toml:"ledger"`
	Attendance Attendance `toml:"attendance"`
	Station    Station    `toml:"station"`
	Capture    Capture    `toml:"capture"`
	Poller     Poller     `toml:"poller"`
	API        API        `toml:"api"`
	Redis      Redis      `toml:"redis"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("qrattend.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for station operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerDSN returns the data source name handed to the ledger driver.
func (c *Config) LedgerDSN() string {
	if strings.TrimSpace(c.Ledger.DSN) != "" {
		return c.Ledger.DSN
	}
	return filepath.Join(c.Paths.DataDir, "attendance.db")
}

// DevicePath returns the video4linux node for the configured device index.
func (c *Config) DevicePath() string {
	return fmt.Sprintf("/dev/video%d", c.Capture.DeviceIndex)
}

// LockPath returns the per-device station lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, fmt.Sprintf("station-video%d.lock", c.Capture.DeviceIndex))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
