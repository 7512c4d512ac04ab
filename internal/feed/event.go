package feed

import "time"

// Event types published by the station.
const (
	TypeSessionStarted   = "session_started"
	TypeSessionStopped   = "session_stopped"
	TypeCodeDetected     = "code_detected"
	TypeAttendance       = "attendance"
	TypeCaptureError     = "capture_error"
	TypeDeviceAdded      = "device_added"
	TypeDeviceRemoved    = "device_removed"
	TypeRecordsUpdated   = "records_updated"
	TypeEventsUpdated    = "events_updated"
	TypeRosterUpdated    = "roster_updated"
	TypePreviewAvailable = "preview_available"
)

// Severity tells presentation how to render an error.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one entry of the feed.
type Event struct {
	Sequence        uint64    `json:"seq"`
	Timestamp       time.Time `json:"ts"`
	Type            string    `json:"type"`
	Severity        Severity  `json:"severity,omitempty"`
	StationID       string    `json:"station_id,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	EventID         string    `json:"event_id,omitempty"`
	Slot            string    `json:"slot,omitempty"`
	ParticipantID   string    `json:"participant_id,omitempty"`
	ParticipantName string    `json:"participant_name,omitempty"`
	Outcome         string    `json:"outcome,omitempty"`
	Message         string    `json:"message,omitempty"`
	Data            any       `json:"data,omitempty"`
}
