package feed

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultCapacity bounds the hub when no capacity is configured.
const DefaultCapacity = 512

// Sink receives every published event after it is buffered. Append must not
// block.
type Sink interface {
	Append(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Append calls f(evt).
func (f SinkFunc) Append(evt Event) { f(evt) }

// Hub keeps the most recent events in a ring and wakes long-poll readers when
// new ones arrive. Publishing never blocks on readers; the oldest entry is
// overwritten once the ring is full.
type Hub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ring    []Event
	start   int
	size    int
	nextSeq uint64
	sinks   []sinkEntry
	sinkID  uint64
	now     func() time.Time
	preview *Snapshot
	evicted uint64
}

// Snapshot is the latest encoded preview frame.
type Snapshot struct {
	Seq         uint64
	ContentType string
	Data        []byte
	CapturedAt  time.Time
}

// NewHub constructs a hub holding up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := &Hub{ring: make([]Event, capacity), now: time.Now}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Capacity returns the ring size.
func (h *Hub) Capacity() int {
	return len(h.ring)
}

type sinkEntry struct {
	id   uint64
	sink Sink
}

// AddSink registers a sink for subsequent events. The returned func removes
// it again and is safe to call more than once.
func (h *Hub) AddSink(sink Sink) (remove func()) {
	if h == nil || sink == nil {
		return func() {}
	}
	h.mu.Lock()
	h.sinkID++
	id := h.sinkID
	h.sinks = append(h.sinks, sinkEntry{id: id, sink: sink})
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.sinks = slices.DeleteFunc(h.sinks, func(e sinkEntry) bool { return e.id == id })
	}
}

// Sinks returns the number of registered sinks.
func (h *Hub) Sinks() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// Publish assigns the next sequence number and buffers evt.
func (h *Hub) Publish(evt Event) Event {
	if h == nil {
		return evt
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = h.now().UTC()
	}
	if h.size < len(h.ring) {
		h.ring[(h.start+h.size)%len(h.ring)] = evt
		h.size++
	} else {
		h.ring[h.start] = evt
		h.start = (h.start + 1) % len(h.ring)
		h.evicted++
	}
	sinks := slices.Clone(h.sinks)
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, entry := range sinks {
		entry.sink.Append(evt)
	}
	return evt
}

// Fetch returns up to limit events with a sequence greater than since, and
// the latest assigned sequence. With wait set it blocks until an event is
// available or ctx ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > len(h.ring) {
		limit = len(h.ring)
	}
	if wait {
		stop := context.AfterFunc(ctx, func() {
			h.mu.Lock()
			h.cond.Broadcast()
			h.mu.Unlock()
		})
		defer stop()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events := h.collectLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, h.nextSeq, ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil, h.nextSeq, err
		}
		h.cond.Wait()
	}
}

// Tail returns the latest limit events without blocking.
func (h *Hub) Tail(limit int) ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > len(h.ring) {
		limit = len(h.ring)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	skip := h.size - limit
	if skip < 0 {
		skip = 0
	}
	out := make([]Event, 0, h.size-skip)
	for i := skip; i < h.size; i++ {
		out = append(out, h.ring[(h.start+i)%len(h.ring)])
	}
	return out, h.nextSeq
}

// FirstSequence is the oldest sequence still buffered. Readers whose cursor
// is below it have missed events.
func (h *Hub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size == 0 {
		return h.nextSeq + 1
	}
	return h.ring[h.start].Sequence
}

// LastSequence is the most recently assigned sequence, or 0.
func (h *Hub) LastSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

// Evicted counts events overwritten before they aged out naturally.
func (h *Hub) Evicted() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evicted
}

// SetPreview replaces the latest preview frame. Previews are kept outside the
// ring so large payloads never crowd out events.
func (h *Hub) SetPreview(snap Snapshot) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.preview = &snap
	h.mu.Unlock()
}

// Preview returns the latest preview frame, if any.
func (h *Hub) Preview() (Snapshot, bool) {
	if h == nil {
		return Snapshot{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.preview == nil {
		return Snapshot{}, false
	}
	return *h.preview, true
}

func (h *Hub) collectLocked(since uint64, limit int) []Event {
	if h.size == 0 {
		return nil
	}
	first := h.ring[h.start].Sequence
	offset := 0
	if since >= first {
		offset = int(since - first + 1)
	}
	if offset >= h.size {
		return nil
	}
	n := h.size - offset
	if n > limit {
		n = limit
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = h.ring[(h.start+offset+i)%len(h.ring)]
	}
	return out
}
