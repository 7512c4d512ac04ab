package station

import (
	"context"
	"os"

	"qrattend/internal/api"
)

// Status implements api.StatusProvider.
func (s *Station) Status(context.Context) api.StationStatus {
	station := s.session.Station()
	s.mu.Lock()
	startedAt := s.startedAt
	running := s.running
	lastErr := s.lastErr
	s.mu.Unlock()

	status := api.StationStatus{
		StationID:      station.StationID,
		SessionID:      station.SessionID,
		Operator:       station.Operator,
		EventID:        station.EventID,
		Slot:           station.Slot,
		Device:         s.cfg.DevicePath(),
		CaptureRunning: s.session.Running(),
		PollerRunning:  s.poller.Running(),
		LedgerDriver:   s.store.Driver(),
		LedgerLocation: s.store.Location(),
		Watermarks:     s.poller.Watermarks(),
		FeedCursor:     s.hub.LastSequence(),
	}
	if _, err := os.Stat(status.Device); err == nil {
		status.DevicePresent = true
	}
	if running {
		status.StartedAt = api.FormatTime(startedAt)
		status.LockPath = s.lockPath
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	return status
}
