package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertParticipant inserts or replaces roster data for one participant.
func (s *Store) UpsertParticipant(ctx context.Context, input ParticipantInput) (*Participant, error) {
	input.ID = normalizeID(input.ID)
	input.DisplayName = normalizeDisplayName(input.DisplayName)
	input.Cohort = strings.TrimSpace(input.Cohort)
	input.Section = strings.TrimSpace(input.Section)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	err := s.withTx(ctx, "upsert participant", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO participants (id, display_name, cohort, section, updated_at)
                 VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT (id) DO UPDATE SET
                     display_name = excluded.display_name,
                     cohort = excluded.cohort,
                     section = excluded.section,
                     updated_at = excluded.updated_at`),
			input.ID, input.DisplayName, nullableString(input.Cohort), nullableString(input.Section), s.timestamp(),
		); err != nil {
			return storageErr("upsert participant", err)
		}
		return s.bumpVersion(ctx, tx, ModelParticipants)
	})
	if err != nil {
		return nil, err
	}
	return s.GetParticipant(ctx, input.ID)
}

// GetParticipant looks up roster data by external id; nil when unknown.
func (s *Store) GetParticipant(ctx context.Context, id string) (*Participant, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+participantColumns+` FROM participants WHERE id = ?`), normalizeID(id))
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get participant", err)
	}
	return p, nil
}

// ListParticipants returns the roster ordered by display name.
func (s *Store) ListParticipants(ctx context.Context) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants ORDER BY display_name, id`)
	if err != nil {
		return nil, storageErr("list participants", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, storageErr("list participants", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list participants", err)
	}
	return out, nil
}
