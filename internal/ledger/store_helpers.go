package ledger

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const recordColumns = "event_id, participant_id, participant_name, slot, status, recorded_at, station_id"

const eventColumns = "id, name, event_date, description, created_at"

const participantColumns = "id, display_name, cohort, section, updated_at"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (Record, error) {
	var (
		rec         Record
		name        sql.NullString
		status      string
		recordedRaw sql.NullString
		station     sql.NullString
	)
	if err := scanner.Scan(&rec.EventID, &rec.ParticipantID, &name, &rec.Slot, &status, &recordedRaw, &station); err != nil {
		return Record{}, err
	}
	rec.ParticipantName = name.String
	rec.Status = Status(status)
	rec.StationID = station.String
	if recordedRaw.Valid {
		if t, err := parseTimeString(recordedRaw.String); err == nil {
			rec.RecordedAt = &t
		}
	}
	return rec, nil
}

func scanEvent(scanner rowScanner) (*Event, error) {
	var (
		evt         Event
		description sql.NullString
		createdRaw  string
	)
	if err := scanner.Scan(&evt.ID, &evt.Name, &evt.Date, &description, &createdRaw); err != nil {
		return nil, err
	}
	evt.Description = description.String
	if created, err := parseTimeString(createdRaw); err == nil {
		evt.CreatedAt = created
	}
	return &evt, nil
}

func scanParticipant(scanner rowScanner) (*Participant, error) {
	var (
		p          Participant
		cohort     sql.NullString
		section    sql.NullString
		updatedRaw string
	)
	if err := scanner.Scan(&p.ID, &p.DisplayName, &cohort, &section, &updatedRaw); err != nil {
		return nil, err
	}
	p.Cohort = cohort.String
	p.Section = section.String
	if updated, err := parseTimeString(updatedRaw); err == nil {
		p.UpdatedAt = updated
	}
	return &p, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// normalizeDisplayName collapses whitespace and title-cases lowercase input so
// roster imports and scanned names render the same way.
func normalizeDisplayName(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	if collapsed == "" {
		return ""
	}
	if collapsed == strings.ToLower(collapsed) {
		return cases.Title(language.Und, cases.NoLower).String(collapsed)
	}
	return collapsed
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
