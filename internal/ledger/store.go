package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	_ "modernc.org/sqlite"

	"qrattend/internal/config"
)

// Store manages attendance persistence.
type Store struct {
	db       *sql.DB
	dialect  dialect
	slots    SlotSet
	validate *validator.Validate
	now      func() time.Time
	location string
}

// Options selects a backend without a full config. Open builds these from config.
type Options struct {
	Driver        string
	DSN           string
	Slots         []string
	BusyTimeoutMS int
	MaxOpenConns  int
}

// Open initializes or connects to the configured ledger and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if cfg.Ledger.Driver == "sqlite" {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
	}
	return OpenWithOptions(context.Background(), Options{
		Driver:        cfg.Ledger.Driver,
		DSN:           cfg.LedgerDSN(),
		Slots:         cfg.Attendance.Slots,
		BusyTimeoutMS: cfg.Ledger.BusyTimeoutMS,
		MaxOpenConns:  cfg.Ledger.MaxOpenConns,
	})
}

// OpenWithOptions connects using explicit options.
func OpenWithOptions(ctx context.Context, opts Options) (*Store, error) {
	slots, err := NewSlotSet(opts.Slots...)
	if err != nil {
		return nil, err
	}

	var (
		db      *sql.DB
		dia     dialect
		display string
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "sqlite":
		db, err = openSQLite(opts.DSN, opts.BusyTimeoutMS)
		dia = sqliteDialect
		display = opts.DSN
	case "postgres":
		db, err = openPostgres(opts.DSN, opts.MaxOpenConns)
		dia = postgresDialect
		display = redactDSN(opts.DSN)
	default:
		return nil, fmt.Errorf("ledger driver %q is not supported", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	store := &Store{
		db:       db,
		dialect:  dia,
		slots:    slots,
		validate: validator.New(),
		now:      time.Now,
		location: display,
	}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func openSQLite(path string, busyTimeoutMS int) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("open sqlite db: empty path")
	}
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	// Pragmas ride on the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		filepath.ToSlash(path), busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection: SQLite serializes writes anyway and this keeps
	// the busy handler out of the in-process race.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Slots returns the configured slot set.
func (s *Store) Slots() SlotSet {
	return s.slots
}

// Location returns a printable description of the backing store.
func (s *Store) Location() string {
	return s.location
}

// Driver names the backend in use.
func (s *Store) Driver() string {
	return s.dialect.name
}

// SetClock overrides the timestamp source used for new rows.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// CheckHealth verifies the database answers and the schema is in place.
func (s *Store) CheckHealth(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations").Scan(&count); err != nil {
		return storageErr("check schema", err)
	}
	if count == 0 {
		return storageErr("check schema", fmt.Errorf("no migrations applied"))
	}
	return nil
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}
