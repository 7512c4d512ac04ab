package testsupport

import (
	"path/filepath"
	"testing"

	"qrattend/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Ledger.DSN = filepath.Join(base, "data", "attendance.db")
	cfgVal.Station.ID = "test-station"
	cfgVal.Station.EventID = "evt-test"
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Capture.HotplugMonitor = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSlots replaces the configured slot set.
func WithSlots(slots ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Attendance.Slots = append([]string(nil), slots...)
		if len(slots) > 0 {
			b.cfg.Station.Slot = slots[0]
		}
	}
}

// WithPostgres points the ledger at a Postgres DSN.
func WithPostgres(dsn string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ledger.Driver = "postgres"
		b.cfg.Ledger.DSN = dsn
		b.cfg.Ledger.MaxOpenConns = 4
	}
}

// WithStation sets the event and slot the station records.
func WithStation(eventID, slot string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Station.EventID = eventID
		b.cfg.Station.Slot = slot
	}
}

// WithPollInterval shortens the poller cadence.
func WithPollInterval(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Poller.IntervalMS = ms
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
