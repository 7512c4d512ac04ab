package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStationID identifies the scanning station.
	FieldStationID = "station_id"
	// FieldSessionID identifies one capture session on a station.
	FieldSessionID = "session_id"
	// FieldEventID identifies the attendance event being recorded.
	FieldEventID = "event_id"
	// FieldSlot names the time slot being recorded.
	FieldSlot = "slot"
	// FieldParticipantID identifies a scanned participant.
	FieldParticipantID = "participant_id"
	// FieldChangeType names a change notification kind emitted by the poller.
	FieldChangeType = "change_type"
	// FieldEventType classifies a warning or error for log filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step for an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey int

const (
	stationKey contextKey = iota
	sessionKey
	eventKey
	slotKey
)

// WithStation tags ctx with a station identifier.
func WithStation(ctx context.Context, stationID string) context.Context {
	return withValue(ctx, stationKey, stationID)
}

// WithSession tags ctx with a capture session identifier.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return withValue(ctx, sessionKey, sessionID)
}

// WithEventSlot tags ctx with the event and slot being recorded.
func WithEventSlot(ctx context.Context, eventID, slot string) context.Context {
	return withValue(withValue(ctx, eventKey, eventID), slotKey, slot)
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	keys := []struct {
		key   contextKey
		field string
	}{
		{stationKey, FieldStationID},
		{sessionKey, FieldSessionID},
		{eventKey, FieldEventID},
		{slotKey, FieldSlot},
	}
	fields := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		if value, ok := ctx.Value(k.key).(string); ok && value != "" {
			fields = append(fields, slog.String(k.field, value))
		}
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
