package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateEvent validates and inserts a new event. An empty ID gets a UUID.
func (s *Store) CreateEvent(ctx context.Context, input EventInput) (*Event, error) {
	input.ID = normalizeID(input.ID)
	input.Name = strings.TrimSpace(input.Name)
	input.Date = strings.TrimSpace(input.Date)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}

	existing, err := s.GetEvent(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, invalidInput("event %q already exists", input.ID)
	}

	err = s.withTx(ctx, "create event", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO events (id, name, event_date, description, created_at) VALUES (?, ?, ?, ?, ?)`),
			input.ID, input.Name, input.Date, nullableString(input.Description), s.timestamp(),
		); err != nil {
			return storageErr("create event", err)
		}
		return s.bumpVersion(ctx, tx, ModelEvents)
	})
	if err != nil {
		return nil, err
	}
	return s.GetEvent(ctx, input.ID)
}

// GetEvent fetches an event by id; nil when it does not exist.
func (s *Store) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+eventColumns+` FROM events WHERE id = ?`), normalizeID(id))
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get event", err)
	}
	return evt, nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY event_date DESC, created_at DESC`)
	if err != nil {
		return nil, storageErr("list events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, storageErr("list events", err)
		}
		events = append(events, *evt)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list events", err)
	}
	return events, nil
}

// DeleteEvent removes the event's attendance records and then the event in one
// transaction. It reports whether the event existed.
func (s *Store) DeleteEvent(ctx context.Context, id string) (bool, error) {
	id = normalizeID(id)
	var existed bool
	err := s.withTx(ctx, "delete event", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM attendance_records WHERE event_id = ?`), id)
		if err != nil {
			return storageErr("delete event records", err)
		}
		removedRecords, err := res.RowsAffected()
		if err != nil {
			return storageErr("delete event records", err)
		}

		res, err = tx.ExecContext(ctx, s.q(`DELETE FROM events WHERE id = ?`), id)
		if err != nil {
			return storageErr("delete event", err)
		}
		removedEvents, err := res.RowsAffected()
		if err != nil {
			return storageErr("delete event", err)
		}
		existed = removedEvents > 0

		if removedRecords > 0 {
			if err := s.bumpVersion(ctx, tx, ModelRecords); err != nil {
				return err
			}
		}
		if existed {
			return s.bumpVersion(ctx, tx, ModelEvents)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (s *Store) requireEvent(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM events WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return storageErr("lookup event", err)
	}
	return nil
}
