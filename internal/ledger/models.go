package ledger

import "time"

// Status is the attendance state of one record.
type Status string

const (
	StatusAbsent  Status = "absent"
	StatusPresent Status = "present"
)

// Outcome reports what RecordAttendance did.
type Outcome int

const (
	// OutcomeRecorded means this call moved the key to present.
	OutcomeRecorded Outcome = iota + 1
	// OutcomeAlreadyPresent means the key was already present; nothing changed.
	OutcomeAlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecorded:
		return "recorded"
	case OutcomeAlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// Event is a gathering attendance is tracked for.
type Event struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Date        string    `json:"date"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Participant is roster reference data looked up by external id.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Cohort      string    `json:"cohort,omitempty"`
	Section     string    `json:"section,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Record is one attendance fact.
type Record struct {
	EventID         string     `json:"event_id"`
	ParticipantID   string     `json:"participant_id"`
	ParticipantName string     `json:"participant_name,omitempty"`
	Slot            string     `json:"slot"`
	Status          Status     `json:"status"`
	RecordedAt      *time.Time `json:"recorded_at,omitempty"`
	StationID       string     `json:"station_id,omitempty"`
}

// Present reports whether the record has been checked in.
func (r Record) Present() bool {
	return r.Status == StatusPresent
}

// RecordKey identifies a record within one event.
type RecordKey struct {
	ParticipantID string
	Slot          string
}

// RecordRequest carries the inputs of RecordAttendance. ParticipantName is
// optional; the roster name is used when it is empty.
type RecordRequest struct {
	EventID         string
	ParticipantID   string
	ParticipantName string
	Slot            string
	StationID       string
}

// SlotCount holds per-slot totals for one event.
type SlotCount struct {
	Slot    string `json:"slot"`
	Present int    `json:"present"`
	Absent  int    `json:"absent"`
}

// Summary lists counts for every configured slot in configuration order.
type Summary struct {
	EventID string      `json:"event_id"`
	Slots   []SlotCount `json:"slots"`
}

// Present returns the present count for slot, zero when unknown.
func (s Summary) Present(slot string) int {
	for _, c := range s.Slots {
		if c.Slot == slot {
			return c.Present
		}
	}
	return 0
}

// EventInput is the validated payload for CreateEvent.
type EventInput struct {
	ID          string `validate:"omitempty,max=64,printascii"`
	Name        string `validate:"required,max=200"`
	Date        string `validate:"required,datetime=2006-01-02"`
	Description string `validate:"max=2000"`
}

// ParticipantInput is the validated payload for UpsertParticipant.
type ParticipantInput struct {
	ID          string `validate:"required,max=128"`
	DisplayName string `validate:"required,max=200"`
	Cohort      string `validate:"max=64"`
	Section     string `validate:"max=64"`
}
