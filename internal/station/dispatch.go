package station

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"qrattend/internal/feed"
	"qrattend/internal/logging"
	"qrattend/internal/metrics"
)

const dispatchBuffer = 256

// dispatcher moves events from session and poller goroutines onto the feed
// through a bounded queue. Enqueue never blocks; a full queue drops.
type dispatcher struct {
	hub     *feed.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	queue   chan feed.Event
	dropped atomic.Uint64

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}
}

func newDispatcher(hub *feed.Hub, m *metrics.Metrics, logger *slog.Logger, buffer int) *dispatcher {
	return &dispatcher{
		hub:     hub,
		metrics: m,
		logger:  logger,
		queue:   make(chan feed.Event, buffer),
	}
}

func (d *dispatcher) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quit != nil {
		return
	}
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.quit, d.done)
}

// stop drains what is already queued and waits for the goroutine to exit.
func (d *dispatcher) stop() {
	d.mu.Lock()
	quit, done := d.quit, d.done
	d.quit, d.done = nil, nil
	d.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	<-done
}

// enqueue queues evt for the feed. Events arriving while the dispatcher is
// stopped are discarded.
func (d *dispatcher) enqueue(evt feed.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quit == nil {
		return
	}
	select {
	case d.queue <- evt:
	default:
		if d.dropped.Add(1) == 1 {
			logging.WarnWithContext(d.logger, "feed dispatch queue full; dropping events", "feed_dispatch_dropped",
				logging.String(logging.FieldImpact, "observers miss some live updates; the ledger is unaffected"),
			)
		}
	}
}

func (d *dispatcher) run(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case evt := <-d.queue:
			d.publish(evt)
		case <-quit:
			for {
				select {
				case evt := <-d.queue:
					d.publish(evt)
				default:
					return
				}
			}
		}
	}
}

func (d *dispatcher) publish(evt feed.Event) {
	d.hub.Publish(evt)
	d.metrics.FeedPublished(evt.Type)
}
