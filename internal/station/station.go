package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"

	"qrattend/internal/capture"
	"qrattend/internal/config"
	"qrattend/internal/feed"
	"qrattend/internal/ledger"
	"qrattend/internal/logging"
	"qrattend/internal/metrics"
	"qrattend/internal/poller"
)

// ErrLocked is returned by Start when another station holds the device lock.
var ErrLocked = errors.New("another station is already using this capture device")

// Dependencies are injected collaborators. Only Store is required.
type Dependencies struct {
	Store   *ledger.Store
	Reader  capture.Reader
	Decoder capture.Decoder
	Feed    *feed.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Station runs capture, polling and hotplug handling for one device.
type Station struct {
	cfg      *config.Config
	store    *ledger.Store
	logger   *slog.Logger
	hub      *feed.Hub
	metrics  *metrics.Metrics
	session  *capture.Session
	poller   *poller.Poller
	monitor  *deviceMonitor
	dispatch *dispatcher
	lock     *flock.Flock
	lockPath string
	now      func() time.Time

	redisClient *redis.Client
	redisSink   *feed.RedisSink
	unsinkRedis func()

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	lastErr   error
	previewed bool
}

// New wires a station from configuration. Missing optional dependencies are
// built from cfg.
func New(cfg *config.Config, deps Dependencies) (*Station, error) {
	if cfg == nil || deps.Store == nil {
		return nil, errors.New("station requires config and ledger store")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	hub := deps.Feed
	if hub == nil {
		hub = feed.NewHub(cfg.API.FeedCapacity)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Station{
		cfg:      cfg,
		store:    deps.Store,
		logger:   logging.NewComponentLogger(logger, "station"),
		hub:      hub,
		metrics:  m,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		now:      now,
	}
	s.dispatch = newDispatcher(hub, m, s.logger, dispatchBuffer)

	reader := deps.Reader
	if reader == nil {
		reader = capture.NewFFmpegReader(cfg.Capture.FFmpegBinary, time.Duration(cfg.Capture.OpenTimeoutSeconds)*time.Second)
	}
	decoder := deps.Decoder
	if decoder == nil {
		decoderOpts := []capture.QRDecoderOption{capture.WithDecodeErrorHook(m.DecodeError)}
		if cfg.Capture.DebugOverlay {
			decoderOpts = append(decoderOpts, capture.WithMarks())
		}
		decoder = capture.NewQRDecoder(logger, decoderOpts...)
	}

	sessionOpts, err := capture.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("capture options: %w", err)
	}
	sessionOpts.Logger = logger
	sessionOpts.Clock = now
	session, err := capture.NewSession(capture.StationContext{
		StationID: cfg.Station.ID,
		Operator:  cfg.Station.Operator,
		EventID:   cfg.Station.EventID,
		Slot:      cfg.Station.Slot,
	}, reader, decoder, deps.Store, deps.Store, s.sessionHooks(), sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("capture session: %w", err)
	}
	s.session = session

	p, err := poller.New(poller.LedgerSources(deps.Store, cfg.Poller.RecentLimit), poller.Options{
		Interval:    time.Duration(cfg.Poller.IntervalMS) * time.Millisecond,
		StopTimeout: time.Duration(cfg.Poller.StopTimeoutMS) * time.Millisecond,
		Logger:      logger,
		Instruments: m,
		Clock:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("poller: %w", err)
	}
	p.Register(s.onChange)
	s.poller = p

	if cfg.Capture.HotplugMonitor {
		s.monitor = newDeviceMonitor(cfg.DevicePath(), logger, s.onDevicePresence)
	}

	if err := m.RegisterGaugeFunc("feed", "evicted_events", "Feed events overwritten before being read.", func() float64 {
		return float64(hub.Evicted())
	}); err != nil {
		s.logger.Debug("feed gauge not registered", logging.Error(err))
	}
	return s, nil
}

// Feed returns the hub presentation layers read from.
func (s *Station) Feed() *feed.Hub {
	return s.hub
}

// Metrics returns the station's metrics registry.
func (s *Station) Metrics() *metrics.Metrics {
	return s.metrics
}

// Poller exposes the change poller so observers can register.
func (s *Station) Poller() *poller.Poller {
	return s.poller
}

// Start takes the device lock and starts the poller, the hotplug monitor and,
// with capture.autostart, the capture session. A capture device that is not
// present yet is not an error when the hotplug monitor will start it later.
func (s *Station) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("station already running")
	}
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (%s)", ErrLocked, s.lockPath)
	}

	ctx = logging.WithStation(ctx, s.cfg.Station.ID)
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running = true
	s.ctx = runCtx
	s.cancel = cancel
	s.startedAt = s.now()
	s.mu.Unlock()

	s.dispatch.start()
	s.startRedis()

	if err := s.poller.Start(runCtx); err != nil {
		s.Stop()
		return fmt.Errorf("start poller: %w", err)
	}
	if err := s.monitor.Start(runCtx); err != nil {
		s.logger.Warn("hotplug monitor unavailable", logging.Error(err))
	}

	s.logger.Info("station started",
		logging.String("lock", s.lockPath),
		logging.String("device", s.cfg.DevicePath()),
		logging.String(logging.FieldEventID, s.cfg.Station.EventID),
		logging.String(logging.FieldSlot, s.cfg.Station.Slot),
		logging.Bool("autostart", s.cfg.Capture.Autostart),
		logging.Bool("hotplug", s.monitor != nil),
	)

	if s.cfg.Capture.Autostart {
		if err := s.StartCapture(ctx); err != nil {
			if s.monitor == nil || !errors.Is(err, capture.ErrDeviceUnavailable) {
				logging.WarnWithContext(s.logger, "capture autostart failed", "capture_autostart_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the camera and the configured event and slot"),
					logging.String(logging.FieldImpact, "codes are not being recorded until capture is started"),
				)
			} else {
				s.logger.Info("waiting for capture device",
					logging.String("device", s.cfg.DevicePath()),
					logging.String(logging.FieldEventType, "capture_waiting_for_device"),
				)
			}
		}
	}
	return nil
}

// Stop halts capture, the monitor and the poller, flushes the feed and
// releases the lock.
func (s *Station) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	s.monitor.Stop()
	if !s.session.Stop() {
		s.logger.Warn("capture loop did not stop in time; continuing shutdown")
	}
	s.poller.Stop()
	if cancel != nil {
		cancel()
	}
	s.dispatch.stop()
	s.stopRedis()

	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release station lock", logging.Error(err))
	}
	s.logger.Info("station stopped")
}

// StartCapture starts the capture session for the configured event and slot.
func (s *Station) StartCapture(ctx context.Context) error {
	s.mu.Lock()
	runCtx := s.ctx
	running := s.running
	s.mu.Unlock()
	if !running || runCtx == nil {
		return errors.New("station is not running")
	}

	station := s.session.Station()
	evt, err := s.store.GetEvent(ctx, station.EventID)
	if err != nil {
		return err
	}
	if evt == nil {
		return fmt.Errorf("%w: %s", ledger.ErrEventNotFound, station.EventID)
	}
	if _, err := s.store.Slots().Resolve(station.Slot); err != nil {
		return err
	}

	if s.session.Running() {
		return nil
	}
	if err := s.session.Start(runCtx); err != nil {
		s.setLastError(err)
		s.metrics.CaptureError(err)
		s.dispatch.enqueue(s.event(feed.TypeCaptureError, feed.SeverityError, err.Error()))
		return err
	}
	s.setLastError(nil)
	s.metrics.SessionRunning(true)
	s.mu.Lock()
	s.previewed = false
	s.mu.Unlock()
	s.dispatch.enqueue(s.event(feed.TypeSessionStarted, feed.SeverityInfo, "capture started for "+evt.Name))
	return nil
}

// StopCapture stops the capture session. It reports false when the loop did
// not exit within the stop timeout.
func (s *Station) StopCapture() bool {
	return s.session.Stop()
}

// CaptureRunning reports whether the capture loop is active.
func (s *Station) CaptureRunning() bool {
	return s.session.Running()
}

// CaptureDone is closed when the current capture loop exits.
func (s *Station) CaptureDone() <-chan struct{} {
	return s.session.Done()
}

// LastError returns the most recent capture failure.
func (s *Station) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Station) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Station) startRedis() {
	if !s.cfg.Redis.Enabled || strings.TrimSpace(s.cfg.Redis.Addr) == "" {
		return
	}
	client := feed.NewRedisClient(s.cfg.Redis.Addr)
	sink := feed.NewRedisSink(client, s.cfg.Redis.Channel, dispatchBuffer, s.logger)
	s.unsinkRedis = s.hub.AddSink(sink)
	s.redisClient = client
	s.redisSink = sink
	s.logger.Info("redis feed sink enabled",
		logging.String("addr", s.cfg.Redis.Addr),
		logging.String("channel", s.cfg.Redis.Channel),
	)
}

func (s *Station) stopRedis() {
	if s.redisSink == nil {
		return
	}
	s.unsinkRedis()
	s.unsinkRedis = nil
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.redisSink.Close(ctx); err != nil {
		s.logger.Debug("redis sink close", logging.Error(err))
	}
	sent, failed, dropped := s.redisSink.Stats()
	s.logger.Info("redis feed sink closed",
		logging.Int64("sent", int64(sent)),
		logging.Int64("failed", int64(failed)),
		logging.Int64("dropped", int64(dropped)),
	)
	_ = s.redisClient.Close()
	s.redisSink = nil
	s.redisClient = nil
}
