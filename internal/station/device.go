package station

import (
	"context"
	"time"

	"qrattend/internal/feed"
	"qrattend/internal/logging"
)

// deviceSettle is how long a newly announced node is given before capture
// opens it.
const deviceSettle = 500 * time.Millisecond

func (s *Station) onDevicePresence(ctx context.Context, device string, present bool) {
	if present {
		s.onDeviceAdded(ctx, device)
		return
	}
	s.onDeviceRemoved(ctx, device)
}

func (s *Station) onDeviceAdded(ctx context.Context, device string) {
	evt := s.event(feed.TypeDeviceAdded, feed.SeverityInfo, device+" connected")
	s.dispatch.enqueue(evt)
	if !s.cfg.Capture.Autostart || s.session.Running() {
		return
	}
	timer := time.NewTimer(deviceSettle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := s.StartCapture(ctx); err != nil {
		logging.WarnWithContext(s.logger, "capture restart after hotplug failed", "capture_hotplug_start_failed",
			logging.String("device", device),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the camera is not in use by another process"),
			logging.String(logging.FieldImpact, "codes are not being recorded"),
		)
	}
}

func (s *Station) onDeviceRemoved(_ context.Context, device string) {
	evt := s.event(feed.TypeDeviceRemoved, feed.SeverityWarning, device+" disconnected")
	s.dispatch.enqueue(evt)
	if s.session.Running() && !s.session.Stop() {
		s.logger.Warn("capture loop did not stop after device removal",
			logging.String("device", device),
		)
	}
}
