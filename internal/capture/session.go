package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/config"
	"qrattend/internal/ledger"
	"qrattend/internal/logging"
)

// Recorder persists attendance. *ledger.Store satisfies it.
type Recorder interface {
	RecordAttendance(ctx context.Context, req ledger.RecordRequest) (ledger.Outcome, error)
}

// Directory resolves roster names for presentation. *ledger.Store satisfies it.
type Directory interface {
	GetParticipant(ctx context.Context, id string) (*ledger.Participant, error)
}

// StationContext identifies who and what a session records for.
type StationContext struct {
	StationID string
	SessionID string
	Operator  string
	EventID   string
	Slot      string
}

// Result describes one completed ledger write.
type Result struct {
	Detection       Detection
	EventID         string
	Slot            string
	ParticipantID   string
	ParticipantName string
	Outcome         ledger.Outcome
	Duration        time.Duration
}

// Hooks are invoked on the session goroutine. A panicking hook is logged and
// does not stop the loop.
type Hooks struct {
	OnCodeDetected func(Detection)
	OnFrameUpdate  func(Preview)
	OnOutcome      func(Result)
	OnError        func(error)
	// OnStopped fires when the loop exits. reason is nil for Stop, a
	// cancelled parent context, or the end of a finite stream.
	OnStopped func(reason error)
}

// Options tunes a Session.
type Options struct {
	Device                    Device
	Cooldown                  time.Duration
	StopTimeout               time.Duration
	WriteTimeout              time.Duration
	MaxConsecutiveFrameErrors int
	PreviewEvery              int
	Preview                   *PreviewEncoder
	Clock                     func() time.Time
	Logger                    *slog.Logger
}

// OptionsFromConfig derives session options from the capture section.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	c := cfg.Capture
	opts := Options{
		Device: Device{
			Index:  c.DeviceIndex,
			Width:  c.Width,
			Height: c.Height,
			FPS:    c.FPS,
		},
		Cooldown:                  time.Duration(c.CooldownMS) * time.Millisecond,
		StopTimeout:               time.Duration(c.StopTimeoutMS) * time.Millisecond,
		WriteTimeout:              time.Duration(c.WriteTimeoutSeconds) * time.Second,
		MaxConsecutiveFrameErrors: c.MaxConsecutiveFrameErrors,
		PreviewEvery:              c.PreviewEvery,
	}
	if c.PreviewEvery > 0 {
		encoder, err := NewPreviewEncoder(c.PreviewFormat, c.PreviewWidth, c.PreviewQuality)
		if err != nil {
			return Options{}, err
		}
		opts.Preview = encoder
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	if o.Cooldown < 0 {
		o.Cooldown = 0
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.MaxConsecutiveFrameErrors <= 0 {
		o.MaxConsecutiveFrameErrors = 10
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// marker is implemented by decoders that expose finder points for overlays.
type marker interface {
	Marks() []image.Point
}

// Session runs the capture loop for one station.
type Session struct {
	station   StationContext
	reader    Reader
	decoder   Decoder
	recorder  Recorder
	directory Directory
	hooks     Hooks
	opts      Options
	gate      *Gate
	logger    *slog.Logger

	lifecycle sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewSession wires a reader, decoder and recorder. directory may be nil.
func NewSession(station StationContext, reader Reader, decoder Decoder, recorder Recorder, directory Directory, hooks Hooks, opts Options) (*Session, error) {
	if reader == nil || decoder == nil || recorder == nil {
		return nil, errors.New("capture session requires reader, decoder and recorder")
	}
	station.EventID = strings.TrimSpace(station.EventID)
	station.Slot = strings.TrimSpace(station.Slot)
	if station.EventID == "" {
		return nil, errors.New("capture session requires an event id")
	}
	if station.Slot == "" {
		return nil, errors.New("capture session requires a slot")
	}
	if station.SessionID == "" {
		station.SessionID = uuid.NewString()
	}
	opts = opts.withDefaults()

	closed := make(chan struct{})
	close(closed)
	return &Session{
		station:   station,
		reader:    reader,
		decoder:   decoder,
		recorder:  recorder,
		directory: directory,
		hooks:     hooks,
		opts:      opts,
		gate:      NewGate(opts.Cooldown),
		logger:    logging.NewComponentLogger(opts.Logger, "capture"),
		done:      closed,
	}, nil
}

// Station returns the session's station context.
func (s *Session) Station() StationContext {
	return s.station
}

// Running reports whether the capture loop is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done is closed when the current loop exits and its final hooks have
// returned. It is already closed while the session is stopped.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// LastError returns the reason the previous loop aborted, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start opens the reader and launches the loop. Starting a running session
// is a no-op. A device that cannot be acquired is returned and the session
// stays stopped.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Running() {
		return nil
	}

	ctx = logging.WithStation(ctx, s.station.StationID)
	ctx = logging.WithSession(ctx, s.station.SessionID)
	ctx = logging.WithEventSlot(ctx, s.station.EventID, s.station.Slot)
	logger := logging.WithContext(ctx, s.logger)

	if err := s.reader.Open(ctx, s.opts.Device); err != nil {
		logging.WarnWithContext(logger, "capture device unavailable", "device_unavailable",
			logging.String("device", s.opts.Device.Path()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the camera is connected and not in use by another station"),
			logging.String(logging.FieldImpact, "capture not started"),
		)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.gate.Reset()

	s.mu.Lock()
	s.running = true
	s.cancel = cancel
	s.done = done
	s.lastErr = nil
	s.mu.Unlock()

	logger.Info("capture started",
		logging.String("device", s.opts.Device.Path()),
		logging.Duration("cooldown", s.opts.Cooldown),
		logging.String("operator", s.station.Operator),
	)

	go s.run(runCtx, cancel, done, logger)
	return nil
}

// Stop cancels the loop and waits up to the stop timeout for it to exit. It
// reports false when the loop was still running at the deadline; the reader
// is closed either way. Stopping a stopped session returns true.
func (s *Session) Stop() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		_ = s.reader.Close()
		s.logger.Warn("capture loop did not stop in time",
			logging.Duration("stop_timeout", s.opts.StopTimeout),
			logging.String(logging.FieldEventType, "capture_stop_timeout"),
		)
		return false
	}
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, logger *slog.Logger) {
	defer close(done)
	reason := s.loop(ctx, logger)
	cancel()
	if err := s.reader.Close(); err != nil {
		logger.Debug("close reader failed", logging.Error(err))
	}

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.lastErr = reason
	s.mu.Unlock()

	if reason != nil {
		logging.ErrorWithContext(logger, "capture aborted", "capture_aborted",
			logging.Error(reason),
			logging.String(logging.FieldErrorHint, "check the camera connection; restart the station once the device is back"),
		)
		s.emitError(reason)
	} else {
		logger.Info("capture stopped")
	}
	if s.hooks.OnStopped != nil {
		s.guard("on_stopped", func() { s.hooks.OnStopped(reason) })
	}
}

func (s *Session) loop(ctx context.Context, logger *slog.Logger) error {
	failures := 0
	var frames int
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := s.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, ErrEndOfStream) {
				logger.Info("frame stream ended")
				return nil
			}
			var readErr *FrameReadError
			if !errors.As(err, &readErr) {
				err = &FrameReadError{Err: err}
			}
			failures++
			logger.Warn("frame read failed; skipping",
				logging.Error(err),
				logging.Int("consecutive_failures", failures),
				logging.String(logging.FieldEventType, "frame_read_failed"),
			)
			s.emitError(err)
			if failures >= s.opts.MaxConsecutiveFrameErrors {
				return &AbortError{Failures: failures, Last: err}
			}
			continue
		}
		failures = 0
		frames++
		s.process(ctx, frame, frames, logger)
	}
}

func (s *Session) process(ctx context.Context, frame Frame, count int, logger *slog.Logger) {
	at := frame.CapturedAt
	if at.IsZero() {
		at = s.opts.Clock()
	}
	for payload := range s.decoder.Decode(frame) {
		payload = strings.TrimSpace(payload)
		if !s.gate.Accept(payload, at) {
			continue
		}
		detection := Detection{Payload: payload, DetectedAt: at, FrameSeq: frame.Seq}
		logger.Debug("code accepted", logging.String(logging.FieldParticipantID, payload))
		if s.hooks.OnCodeDetected != nil {
			s.guard("on_code_detected", func() { s.hooks.OnCodeDetected(detection) })
		}
		s.record(ctx, detection, logger)
	}

	if s.opts.Preview == nil || s.opts.PreviewEvery <= 0 || s.hooks.OnFrameUpdate == nil {
		return
	}
	if count%s.opts.PreviewEvery != 0 {
		return
	}
	var marks []image.Point
	if m, ok := s.decoder.(marker); ok {
		marks = m.Marks()
	}
	preview, err := s.opts.Preview.Encode(frame, marks)
	if err != nil {
		logger.Debug("preview encode failed", logging.Error(err))
		return
	}
	s.guard("on_frame_update", func() { s.hooks.OnFrameUpdate(preview) })
}

// record writes the detection. The write is detached from the loop context so
// a concurrent Stop does not abandon an issued write.
func (s *Session) record(ctx context.Context, detection Detection, logger *slog.Logger) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	participantID := detection.Payload
	logger = logger.With(logging.String(logging.FieldParticipantID, participantID))

	started := time.Now()
	outcome, err := s.recorder.RecordAttendance(writeCtx, ledger.RecordRequest{
		EventID:       s.station.EventID,
		ParticipantID: participantID,
		Slot:          s.station.Slot,
		StationID:     s.station.StationID,
	})
	elapsed := time.Since(started)
	if err != nil {
		err = fmt.Errorf("record attendance for %s: %w", participantID, err)
		if errors.Is(err, ledger.ErrStorage) {
			logging.ErrorWithContext(logger, "attendance write failed", "attendance_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ledger connectivity; the participant may rescan after the cooldown"),
			)
		} else {
			logging.WarnWithContext(logger, "attendance write rejected", "attendance_write_rejected",
				logging.Error(err),
				logging.String(logging.FieldImpact, "scan ignored"),
			)
		}
		s.emitError(err)
		return
	}

	result := Result{
		Detection:       detection,
		EventID:         s.station.EventID,
		Slot:            s.station.Slot,
		ParticipantID:   participantID,
		ParticipantName: s.lookupName(writeCtx, participantID, logger),
		Outcome:         outcome,
		Duration:        elapsed,
	}
	logger.Info("attendance "+outcome.String(),
		logging.String("participant_name", result.ParticipantName),
		logging.Duration("write_duration", elapsed),
	)
	if s.hooks.OnOutcome != nil {
		s.guard("on_outcome", func() { s.hooks.OnOutcome(result) })
	}
}

func (s *Session) lookupName(ctx context.Context, participantID string, logger *slog.Logger) string {
	if s.directory == nil {
		return ""
	}
	participant, err := s.directory.GetParticipant(ctx, participantID)
	if err != nil {
		logger.Debug("roster lookup failed", logging.Error(err))
		return ""
	}
	if participant == nil {
		return ""
	}
	return participant.DisplayName
}

func (s *Session) emitError(err error) {
	if s.hooks.OnError == nil || err == nil {
		return
	}
	s.guard("on_error", func() { s.hooks.OnError(err) })
}

func (s *Session) guard(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("capture hook panicked",
				logging.String("hook", hook),
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "hook_panic"),
			)
		}
	}()
	fn()
}
