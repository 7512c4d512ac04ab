package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLedger(); err != nil {
		return err
	}
	c.normalizeAttendance()
	c.normalizeStation()
	c.normalizeCapture()
	c.normalizeAPI()
	c.normalizeRedis()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLedger() error {
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	switch c.Ledger.Driver {
	case "", "sqlite", "sqlite3":
		c.Ledger.Driver = "sqlite"
	case "postgres", "postgresql", "pgx":
		c.Ledger.Driver = "postgres"
	}
	c.Ledger.DSN = strings.TrimSpace(c.Ledger.DSN)
	if c.Ledger.DSN == "" {
		if value, ok := os.LookupEnv("QRATTEND_LEDGER_DSN"); ok {
			c.Ledger.DSN = strings.TrimSpace(value)
		}
	}
	if c.Ledger.Driver == "sqlite" && c.Ledger.DSN != "" {
		var err error
		if c.Ledger.DSN, err = expandPath(c.Ledger.DSN); err != nil {
			return fmt.Errorf("ledger.dsn: %w", err)
		}
	}
	if c.Ledger.BusyTimeoutMS <= 0 {
		c.Ledger.BusyTimeoutMS = defaultBusyTimeoutMS
	}
	if c.Ledger.MaxOpenConns <= 0 && c.Ledger.Driver == "postgres" {
		c.Ledger.MaxOpenConns = defaultPostgresMaxOpenConns
	}
	return nil
}

func (c *Config) normalizeAttendance() {
	slots := make([]string, 0, len(c.Attendance.Slots))
	seen := make(map[string]struct{}, len(c.Attendance.Slots))
	for _, slot := range c.Attendance.Slots {
		normalized := strings.ToLower(strings.TrimSpace(slot))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		slots = append(slots, normalized)
	}
	if len(slots) == 0 {
		slots = append(slots, DefaultSlots...)
	}
	c.Attendance.Slots = slots
}

func (c *Config) normalizeStation() {
	c.Station.ID = strings.TrimSpace(c.Station.ID)
	if c.Station.ID == "" {
		if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
			c.Station.ID = fmt.Sprintf("%s-video%d", strings.TrimSpace(host), c.Capture.DeviceIndex)
		} else {
			c.Station.ID = fmt.Sprintf("station-video%d", c.Capture.DeviceIndex)
		}
	}
	c.Station.Operator = strings.TrimSpace(c.Station.Operator)
	c.Station.EventID = strings.TrimSpace(c.Station.EventID)
	c.Station.Slot = strings.ToLower(strings.TrimSpace(c.Station.Slot))
	if c.Station.Slot == "" && len(c.Attendance.Slots) > 0 {
		c.Station.Slot = c.Attendance.Slots[0]
	}
}

func (c *Config) normalizeCapture() {
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	if c.Capture.FFmpegBinary == "" {
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	}
	c.Capture.PreviewFormat = strings.ToLower(strings.TrimSpace(c.Capture.PreviewFormat))
	switch c.Capture.PreviewFormat {
	case "", "jpg", "jpeg":
		c.Capture.PreviewFormat = "jpeg"
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("QRATTEND_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	if c.API.FeedCapacity <= 0 {
		c.API.FeedCapacity = defaultFeedCapacity
	}
}

func (c *Config) normalizeRedis() {
	if value, ok := os.LookupEnv("QRATTEND_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	c.Redis.Channel = strings.TrimSpace(c.Redis.Channel)
	if c.Redis.Channel == "" {
		c.Redis.Channel = defaultRedisChannel
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
