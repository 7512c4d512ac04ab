package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"qrattend/internal/logging"
)

// Change types delivered to observers.
const (
	TypeRecordsUpdated = "records_updated"
	TypeEventsUpdated  = "events_updated"
	TypeRosterUpdated  = "roster_updated"
)

// Source is one read model the poller watches. Version must be cheap; Fetch
// runs only after Version moved.
type Source struct {
	Name    string
	Type    string
	Version func(ctx context.Context) (int64, error)
	Fetch   func(ctx context.Context) (any, error)
}

// Change is delivered to observers after a source's version moved and its
// content was fetched.
type Change struct {
	Type       string    `json:"type"`
	Model      string    `json:"model"`
	Version    int64     `json:"version"`
	Data       any       `json:"data,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Observer receives changes on the poller goroutine, in registration order.
type Observer func(Change)

// TickError reports a failed sample of one source.
type TickError struct {
	Source string
	Stage  string
	Err    error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("poll %s (%s): %v", e.Source, e.Stage, e.Err)
}

func (e *TickError) Unwrap() error {
	return e.Err
}

// Instruments receives poller measurements. Any method may be a no-op.
type Instruments interface {
	TickCompleted(d time.Duration)
	TickFailed(source string)
	ChangeDelivered(changeType string)
}

// Options tunes a Poller.
type Options struct {
	Interval    time.Duration
	StopTimeout time.Duration
	// EmitInitial delivers every source's current content on the first tick
	// instead of silently taking a baseline.
	EmitInitial bool
	Logger      *slog.Logger
	Instruments Instruments
	Clock       func() time.Time
}

type watermark struct {
	version int64
	known   bool
}

type registration struct {
	id       uint64
	observer Observer
}

// Poller runs the change detection loop.
type Poller struct {
	sources     []Source
	interval    time.Duration
	stopTimeout time.Duration
	emitInitial bool
	logger      *slog.Logger
	instruments Instruments
	now         func() time.Time

	obsMu     sync.RWMutex
	observers []registration
	nextID    uint64

	markMu     sync.Mutex
	watermarks map[string]watermark

	lifecycle sync.Mutex
	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New constructs a poller over sources.
func New(sources []Source, opts Options) (*Poller, error) {
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if src.Name == "" || src.Type == "" {
			return nil, errors.New("poller source requires a name and a change type")
		}
		if src.Version == nil || src.Fetch == nil {
			return nil, fmt.Errorf("poller source %s requires version and fetch functions", src.Name)
		}
		if _, dup := seen[src.Name]; dup {
			return nil, fmt.Errorf("duplicate poller source %s", src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	closed := make(chan struct{})
	close(closed)
	return &Poller{
		sources:     append([]Source(nil), sources...),
		interval:    opts.Interval,
		stopTimeout: opts.StopTimeout,
		emitInitial: opts.EmitInitial,
		logger:      logging.NewComponentLogger(opts.Logger, "poller"),
		instruments: opts.Instruments,
		now:         opts.Clock,
		watermarks:  make(map[string]watermark, len(sources)),
		done:        closed,
	}, nil
}

// Register adds an observer and returns a function that removes it.
func (p *Poller) Register(observer Observer) func() {
	if observer == nil {
		return func() {}
	}
	p.obsMu.Lock()
	p.nextID++
	id := p.nextID
	p.observers = append(p.observers, registration{id: id, observer: observer})
	p.obsMu.Unlock()

	return func() {
		p.obsMu.Lock()
		defer p.obsMu.Unlock()
		for i, reg := range p.observers {
			if reg.id == id {
				p.observers = append(p.observers[:i:i], p.observers[i+1:]...)
				return
			}
		}
	}
}

// Interval returns the tick period.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Watermarks returns the last delivered version per source. Sources that have
// never been read successfully are absent.
func (p *Poller) Watermarks() map[string]int64 {
	p.markMu.Lock()
	defer p.markMu.Unlock()
	out := make(map[string]int64, len(p.watermarks))
	for name, mark := range p.watermarks {
		if mark.known {
			out[name] = mark.version
		}
	}
	return out
}

// Start takes a baseline of every source and launches the loop. Starting a
// running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.Running() {
		return nil
	}

	if !p.emitInitial {
		p.baseline(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	p.running = true
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	p.logger.Info("change poller started",
		logging.Duration("interval", p.interval),
		logging.Int("sources", len(p.sources)),
	)
	go p.loop(runCtx, done)
	return nil
}

// Stop signals the loop and waits up to the stop timeout. It returns false
// when the loop had not exited by then.
func (p *Poller) Stop() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return true
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		p.logger.Warn("change poller did not stop in time",
			logging.Duration("stop_timeout", p.stopTimeout),
			logging.String(logging.FieldEventType, "poller_stop_timeout"),
		)
		return false
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.cancel = nil
		p.mu.Unlock()
		close(done)
		p.logger.Info("change poller stopped")
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

func (p *Poller) baseline(ctx context.Context) {
	for _, src := range p.sources {
		p.baselineSource(ctx, src)
	}
}

func (p *Poller) baselineSource(ctx context.Context, src Source) {
	defer p.recoverSource(src.Name)
	version, err := src.Version(ctx)
	if err != nil {
		p.tickFailed(&TickError{Source: src.Name, Stage: "baseline", Err: err})
		return
	}
	p.setWatermark(src.Name, version)
}

// recoverSource turns a panicking source into a failed tick. The watermark is
// left alone so the pending change is retried.
func (p *Poller) recoverSource(name string) {
	if r := recover(); r != nil {
		p.tickFailed(&TickError{Source: name, Stage: "panic", Err: fmt.Errorf("%v", r)})
	}
}

// Tick samples every source once. The loop calls it on each interval; it is
// exported for one-shot callers.
func (p *Poller) Tick(ctx context.Context) {
	started := time.Now()
	for _, src := range p.sources {
		if ctx.Err() != nil {
			return
		}
		p.poll(ctx, src)
	}
	if p.instruments != nil {
		p.instruments.TickCompleted(time.Since(started))
	}
}

func (p *Poller) poll(ctx context.Context, src Source) {
	defer p.recoverSource(src.Name)
	version, err := src.Version(ctx)
	if err != nil {
		p.tickFailed(&TickError{Source: src.Name, Stage: "version", Err: err})
		return
	}
	p.markMu.Lock()
	mark := p.watermarks[src.Name]
	p.markMu.Unlock()
	if mark.known && mark.version == version {
		return
	}

	data, err := src.Fetch(ctx)
	if err != nil {
		// Watermark unchanged so the next tick retries the fetch.
		p.tickFailed(&TickError{Source: src.Name, Stage: "fetch", Err: err})
		return
	}
	p.setWatermark(src.Name, version)

	change := Change{
		Type:       src.Type,
		Model:      src.Name,
		Version:    version,
		Data:       data,
		ObservedAt: p.now(),
	}
	p.logger.Debug("change detected",
		logging.String(logging.FieldChangeType, change.Type),
		logging.Int64("version", version),
	)
	p.deliver(change)
}

func (p *Poller) setWatermark(name string, version int64) {
	p.markMu.Lock()
	p.watermarks[name] = watermark{version: version, known: true}
	p.markMu.Unlock()
}

func (p *Poller) deliver(change Change) {
	p.obsMu.RLock()
	observers := make([]registration, len(p.observers))
	copy(observers, p.observers)
	p.obsMu.RUnlock()

	for _, reg := range observers {
		p.notify(reg.observer, change)
	}
	if p.instruments != nil {
		p.instruments.ChangeDelivered(change.Type)
	}
}

func (p *Poller) notify(observer Observer, change Change) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("change observer panicked",
				logging.String(logging.FieldChangeType, change.Type),
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "observer_panic"),
			)
		}
	}()
	observer(change)
}

func (p *Poller) tickFailed(err *TickError) {
	logging.WarnWithContext(p.logger, "change poll failed; will retry", "poll_failed",
		logging.String("source", err.Source),
		logging.String("stage", err.Stage),
		logging.Error(err),
		logging.String(logging.FieldImpact, "observers see this change on a later tick"),
	)
	if p.instruments != nil {
		p.instruments.TickFailed(err.Source)
	}
}
