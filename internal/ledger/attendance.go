package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// upsertPresentSQL moves a key to present exactly once. The conflict branch
// only fires while the stored row is still absent, so a racing second writer
// affects zero rows and reads as AlreadyPresent.
const upsertPresentSQL = `INSERT INTO attendance_records (
        event_id, participant_id, participant_name, slot, status, recorded_at, station_id
    ) VALUES (?, ?, COALESCE(?, (SELECT display_name FROM participants WHERE id = ?)), ?, 'present', ?, ?)
    ON CONFLICT (event_id, participant_id, slot) DO UPDATE SET
        status = 'present',
        recorded_at = excluded.recorded_at,
        participant_name = COALESCE(excluded.participant_name, attendance_records.participant_name),
        station_id = excluded.station_id
    WHERE attendance_records.status <> 'present'`

const seedAbsentSQL = `INSERT INTO attendance_records (
        event_id, participant_id, participant_name, slot, status, recorded_at, station_id
    ) VALUES (?, ?, (SELECT display_name FROM participants WHERE id = ?), ?, 'absent', NULL, NULL)
    ON CONFLICT (event_id, participant_id, slot) DO NOTHING`

// RecordAttendance marks (event, participant, slot) present. Recording a key
// that is already present returns OutcomeAlreadyPresent and no error.
func (s *Store) RecordAttendance(ctx context.Context, req RecordRequest) (Outcome, error) {
	eventID := normalizeID(req.EventID)
	participantID := normalizeID(req.ParticipantID)
	if eventID == "" {
		return 0, invalidInput("event id is required")
	}
	if participantID == "" {
		return 0, invalidInput("participant id is required")
	}
	slot, err := s.slots.Resolve(req.Slot)
	if err != nil {
		return 0, err
	}
	if err := s.requireEvent(ctx, eventID); err != nil {
		return 0, err
	}

	name := normalizeDisplayName(req.ParticipantName)
	var outcome Outcome
	err = s.withTx(ctx, "record attendance", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(upsertPresentSQL),
			eventID,
			participantID,
			nullableString(name),
			participantID,
			slot,
			s.timestamp(),
			nullableString(strings.TrimSpace(req.StationID)),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("record attendance: %w: %s", ErrEventNotFound, eventID)
			}
			return storageErr("record attendance", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return storageErr("record attendance", fmt.Errorf("rows affected: %w", err))
		}
		if affected == 0 {
			outcome = OutcomeAlreadyPresent
			return nil
		}
		outcome = OutcomeRecorded
		return s.bumpVersion(ctx, tx, ModelRecords)
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// IsCheckedIn returns when the key was recorded present, or nil when it is not.
func (s *Store) IsCheckedIn(ctx context.Context, eventID, participantID, slot string) (*time.Time, error) {
	resolved, err := s.slots.Resolve(slot)
	if err != nil {
		return nil, err
	}
	var recordedRaw sql.NullString
	err = s.db.QueryRowContext(ctx,
		s.q(`SELECT recorded_at FROM attendance_records
             WHERE event_id = ? AND participant_id = ? AND slot = ? AND status = 'present'`),
		normalizeID(eventID), normalizeID(participantID), resolved,
	).Scan(&recordedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("is checked in", err)
	}
	if !recordedRaw.Valid {
		return nil, storageErr("is checked in", fmt.Errorf("present record without timestamp"))
	}
	recorded, err := parseTimeString(recordedRaw.String)
	if err != nil {
		return nil, storageErr("is checked in", fmt.Errorf("parse recorded_at: %w", err))
	}
	return &recorded, nil
}

// CheckedInAnySlot returns the earliest present record for the participant in
// any slot of the event, or nil. It is informational and never gates recording.
func (s *Store) CheckedInAnySlot(ctx context.Context, eventID, participantID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+recordColumns+` FROM attendance_records
             WHERE event_id = ? AND participant_id = ? AND status = 'present'
             ORDER BY recorded_at ASC LIMIT 1`),
		normalizeID(eventID), normalizeID(participantID),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("checked in any slot", err)
	}
	return &rec, nil
}

// AttendanceByEvent returns every record of the event keyed by participant and
// slot. A missing event yields an empty map.
func (s *Store) AttendanceByEvent(ctx context.Context, eventID string) (map[RecordKey]Record, error) {
	records, err := s.ListAttendance(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := make(map[RecordKey]Record, len(records))
	for _, rec := range records {
		out[RecordKey{ParticipantID: rec.ParticipantID, Slot: rec.Slot}] = rec
	}
	return out, nil
}

// ListAttendance returns the event's records, most recent first; absent rows
// follow in participant order.
func (s *Store) ListAttendance(ctx context.Context, eventID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+recordColumns+` FROM attendance_records
             WHERE event_id = ?
             ORDER BY recorded_at IS NULL, recorded_at DESC, participant_id, slot`),
		normalizeID(eventID),
	)
	if err != nil {
		return nil, storageErr("list attendance", err)
	}
	defer rows.Close()
	return collectRecords(rows, "list attendance")
}

// RecentRecords returns the latest present records across all events.
func (s *Store) RecentRecords(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+recordColumns+` FROM attendance_records
             WHERE status = 'present'
             ORDER BY recorded_at DESC, event_id, participant_id
             LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, storageErr("recent records", err)
	}
	defer rows.Close()
	return collectRecords(rows, "recent records")
}

// Summary counts present and absent rows per slot. Every configured slot is
// listed, zero-filled, in configuration order.
func (s *Store) Summary(ctx context.Context, eventID string) (Summary, error) {
	eventID = normalizeID(eventID)
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT slot,
                    SUM(CASE WHEN status = 'present' THEN 1 ELSE 0 END),
                    SUM(CASE WHEN status = 'absent' THEN 1 ELSE 0 END)
             FROM attendance_records
             WHERE event_id = ?
             GROUP BY slot`),
		eventID,
	)
	if err != nil {
		return Summary{}, storageErr("summary", err)
	}
	defer rows.Close()

	counts := make(map[string]SlotCount)
	for rows.Next() {
		var (
			slot    string
			present int64
			absent  int64
		)
		if err := rows.Scan(&slot, &present, &absent); err != nil {
			return Summary{}, storageErr("summary", err)
		}
		counts[slot] = SlotCount{Slot: slot, Present: int(present), Absent: int(absent)}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, storageErr("summary", err)
	}

	summary := Summary{EventID: eventID}
	for _, slot := range s.slots.Names() {
		count := counts[slot]
		count.Slot = slot
		summary.Slots = append(summary.Slots, count)
		delete(counts, slot)
	}
	// Rows left over from a slot that has since been removed from config.
	extra := make([]SlotCount, 0, len(counts))
	for _, count := range counts {
		extra = append(extra, count)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Slot < extra[j].Slot })
	summary.Slots = append(summary.Slots, extra...)
	return summary, nil
}

// SeedAbsent creates absent rows for participants that have no record for the
// slot yet. Existing rows, present or absent, are left alone.
func (s *Store) SeedAbsent(ctx context.Context, eventID, slot string, participantIDs []string) (int, error) {
	eventID = normalizeID(eventID)
	resolved, err := s.slots.Resolve(slot)
	if err != nil {
		return 0, err
	}
	if err := s.requireEvent(ctx, eventID); err != nil {
		return 0, err
	}

	inserted := 0
	err = s.withTx(ctx, "seed absent", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(seedAbsentSQL))
		if err != nil {
			return storageErr("seed absent", err)
		}
		defer stmt.Close()
		for _, raw := range participantIDs {
			id := normalizeID(raw)
			if id == "" {
				continue
			}
			res, err := stmt.ExecContext(ctx, eventID, id, id, resolved)
			if err != nil {
				return storageErr("seed absent", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return storageErr("seed absent", err)
			}
			inserted += int(affected)
		}
		if inserted == 0 {
			return nil
		}
		return s.bumpVersion(ctx, tx, ModelRecords)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func collectRecords(rows *sql.Rows, op string) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return records, nil
}
