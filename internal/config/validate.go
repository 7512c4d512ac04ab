package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var slotNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateAttendance(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validatePoller(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			return errors.New("ledger.dsn must be set when ledger.driver is postgres (or set QRATTEND_LEDGER_DSN)")
		}
	default:
		return fmt.Errorf("ledger.driver %q is not supported (use sqlite or postgres)", c.Ledger.Driver)
	}
	if c.Ledger.MaxOpenConns < 0 {
		return errors.New("ledger.max_open_conns must be >= 0")
	}
	return nil
}

func (c *Config) validateAttendance() error {
	if len(c.Attendance.Slots) == 0 {
		return errors.New("attendance.slots must include at least one slot")
	}
	for _, slot := range c.Attendance.Slots {
		if !slotNamePattern.MatchString(slot) {
			return fmt.Errorf("attendance.slots entry %q must be lowercase letters, digits, '-' or '_'", slot)
		}
	}
	if c.Station.Slot != "" && !slices.Contains(c.Attendance.Slots, c.Station.Slot) {
		return fmt.Errorf("station.slot %q is not one of attendance.slots %v", c.Station.Slot, c.Attendance.Slots)
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.DeviceIndex < 0 {
		return errors.New("capture.device_index must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"capture.width":                        c.Capture.Width,
		"capture.height":                       c.Capture.Height,
		"capture.fps":                          c.Capture.FPS,
		"capture.open_timeout_seconds":         c.Capture.OpenTimeoutSeconds,
		"capture.stop_timeout_ms":              c.Capture.StopTimeoutMS,
		"capture.write_timeout_seconds":        c.Capture.WriteTimeoutSeconds,
		"capture.max_consecutive_frame_errors": c.Capture.MaxConsecutiveFrameErrors,
	}); err != nil {
		return err
	}
	if c.Capture.CooldownMS < 0 {
		return errors.New("capture.cooldown_ms must be >= 0")
	}
	if c.Capture.PreviewEvery < 0 {
		return errors.New("capture.preview_every must be >= 0 (0 disables previews)")
	}
	switch c.Capture.PreviewFormat {
	case "jpeg", "webp":
	default:
		return fmt.Errorf("capture.preview_format %q is not supported (use jpeg or webp)", c.Capture.PreviewFormat)
	}
	if c.Capture.PreviewWidth < 0 {
		return errors.New("capture.preview_width must be >= 0")
	}
	if c.Capture.PreviewQuality < 1 || c.Capture.PreviewQuality > 100 {
		return errors.New("capture.preview_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validatePoller() error {
	return ensurePositiveMap(map[string]int{
		"poller.interval_ms":     c.Poller.IntervalMS,
		"poller.stop_timeout_ms": c.Poller.StopTimeoutMS,
		"poller.recent_limit":    c.Poller.RecentLimit,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
