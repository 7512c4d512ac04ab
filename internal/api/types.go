package api

import (
	"context"
	"time"

	"qrattend/internal/feed"
	"qrattend/internal/ledger"
)

// timeFormat is used for timestamps in API payloads.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Ledger is the read surface the API needs from the store.
type Ledger interface {
	ListEvents(ctx context.Context) ([]ledger.Event, error)
	GetEvent(ctx context.Context, id string) (*ledger.Event, error)
	ListAttendance(ctx context.Context, eventID string) ([]ledger.Record, error)
	Summary(ctx context.Context, eventID string) (ledger.Summary, error)
	IsCheckedIn(ctx context.Context, eventID, participantID, slot string) (*time.Time, error)
	CheckedInAnySlot(ctx context.Context, eventID, participantID string) (*ledger.Record, error)
	CheckHealth(ctx context.Context) error
	Slots() ledger.SlotSet
}

// StatusProvider reports live station state.
type StatusProvider interface {
	Status(ctx context.Context) StationStatus
}

// StationStatus is the payload of GET /api/status.
type StationStatus struct {
	StationID      string           `json:"station_id"`
	SessionID      string           `json:"session_id,omitempty"`
	Operator       string           `json:"operator,omitempty"`
	EventID        string           `json:"event_id"`
	Slot           string           `json:"slot"`
	Device         string           `json:"device"`
	DevicePresent  bool             `json:"device_present"`
	CaptureRunning bool             `json:"capture_running"`
	PollerRunning  bool             `json:"poller_running"`
	LastError      string           `json:"last_error,omitempty"`
	StartedAt      string           `json:"started_at,omitempty"`
	LedgerDriver   string           `json:"ledger_driver"`
	LedgerLocation string           `json:"ledger_location"`
	LockPath       string           `json:"lock_path,omitempty"`
	Watermarks     map[string]int64 `json:"watermarks,omitempty"`
	FeedCursor     uint64           `json:"feed_cursor"`
}

// EventListResponse wraps GET /api/events.
type EventListResponse struct {
	Events []ledger.Event `json:"events"`
}

// AttendanceResponse wraps GET /api/events/:id/attendance.
type AttendanceResponse struct {
	EventID string          `json:"event_id"`
	Records []ledger.Record `json:"records"`
}

// CheckInResponse answers GET /api/events/:id/participants/:pid.
type CheckInResponse struct {
	EventID       string         `json:"event_id"`
	ParticipantID string         `json:"participant_id"`
	Slot          string         `json:"slot,omitempty"`
	CheckedIn     bool           `json:"checked_in"`
	RecordedAt    string         `json:"recorded_at,omitempty"`
	FirstRecord   *ledger.Record `json:"first_record,omitempty"`
}

// FeedResponse wraps GET /api/feed.
type FeedResponse struct {
	Events []feed.Event `json:"events"`
	Next   uint64       `json:"next"`
	First  uint64       `json:"first"`
	// Missed is set when the cursor fell behind the buffered window.
	Missed bool `json:"missed,omitempty"`
}

// HealthResponse is the payload of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FormatTime renders t for API payloads.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}
