package station

import (
	"errors"
	"fmt"

	"qrattend/internal/capture"
	"qrattend/internal/feed"
	"qrattend/internal/ledger"
	"qrattend/internal/poller"
)

func (s *Station) sessionHooks() capture.Hooks {
	return capture.Hooks{
		OnCodeDetected: s.onCodeDetected,
		OnFrameUpdate:  s.onFrameUpdate,
		OnOutcome:      s.onOutcome,
		OnError:        s.onCaptureError,
		OnStopped:      s.onCaptureStopped,
	}
}

func (s *Station) event(eventType string, severity feed.Severity, message string) feed.Event {
	station := s.session.Station()
	return feed.Event{
		Timestamp: s.now().UTC(),
		Type:      eventType,
		Severity:  severity,
		StationID: station.StationID,
		SessionID: station.SessionID,
		EventID:   station.EventID,
		Slot:      station.Slot,
		Message:   message,
	}
}

func (s *Station) onCodeDetected(d capture.Detection) {
	s.metrics.CodeAccepted()
	evt := s.event(feed.TypeCodeDetected, feed.SeverityInfo, "")
	evt.Timestamp = d.DetectedAt.UTC()
	evt.ParticipantID = d.Payload
	s.dispatch.enqueue(evt)
}

func (s *Station) onOutcome(r capture.Result) {
	s.metrics.RecordOutcome(r.Outcome, r.Duration)
	evt := s.event(feed.TypeAttendance, feed.SeverityInfo, "")
	evt.EventID = r.EventID
	evt.Slot = r.Slot
	evt.ParticipantID = r.ParticipantID
	evt.ParticipantName = r.ParticipantName
	evt.Outcome = r.Outcome.String()
	name := r.ParticipantName
	if name == "" {
		name = r.ParticipantID
	}
	switch r.Outcome {
	case ledger.OutcomeRecorded:
		evt.Message = fmt.Sprintf("%s checked in", name)
	case ledger.OutcomeAlreadyPresent:
		evt.Message = fmt.Sprintf("%s already checked in", name)
	}
	s.dispatch.enqueue(evt)
}

func (s *Station) onCaptureError(err error) {
	s.metrics.CaptureError(err)
	severity := feed.SeverityWarning
	var abortErr *capture.AbortError
	if errors.As(err, &abortErr) || errors.Is(err, capture.ErrDeviceUnavailable) {
		severity = feed.SeverityError
		s.setLastError(err)
	}
	evt := s.event(feed.TypeCaptureError, severity, err.Error())
	s.dispatch.enqueue(evt)
}

func (s *Station) onFrameUpdate(p capture.Preview) {
	s.hub.SetPreview(feed.Snapshot{
		Seq:         p.Seq,
		ContentType: p.ContentType,
		Data:        p.Data,
		CapturedAt:  s.now(),
	})
	s.mu.Lock()
	first := !s.previewed
	s.previewed = true
	s.mu.Unlock()
	if first {
		evt := s.event(feed.TypePreviewAvailable, feed.SeverityInfo, "")
		evt.Data = map[string]any{"content_type": p.ContentType, "width": p.Width, "height": p.Height}
		s.dispatch.enqueue(evt)
	}
}

func (s *Station) onCaptureStopped(reason error) {
	s.metrics.SessionRunning(false)
	evt := s.event(feed.TypeSessionStopped, feed.SeverityInfo, "capture stopped")
	if reason != nil {
		evt.Severity = feed.SeverityError
		evt.Message = reason.Error()
	}
	s.dispatch.enqueue(evt)
}

func (s *Station) onChange(change poller.Change) {
	evt := s.event(change.Type, feed.SeverityInfo, fmt.Sprintf("%s version %d", change.Model, change.Version))
	evt.Timestamp = change.ObservedAt.UTC()
	evt.Data = change.Data
	s.dispatch.enqueue(evt)
}
