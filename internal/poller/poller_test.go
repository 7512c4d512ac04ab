package poller_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qrattend/internal/ledger"
	"qrattend/internal/poller"
	"qrattend/internal/testsupport"
)

type fakeSource struct {
	version   atomic.Int64
	fetches   atomic.Int64
	failFetch atomic.Int64
	failVer   atomic.Int64
	panicVer  atomic.Int64
	panicGet  atomic.Int64
}

func (f *fakeSource) source(name, changeType string) poller.Source {
	return poller.Source{
		Name: name,
		Type: changeType,
		Version: func(context.Context) (int64, error) {
			if f.panicVer.Load() > 0 {
				f.panicVer.Add(-1)
				panic("version exploded")
			}
			if f.failVer.Load() > 0 {
				f.failVer.Add(-1)
				return 0, errors.New("version unavailable")
			}
			return f.version.Load(), nil
		},
		Fetch: func(context.Context) (any, error) {
			f.fetches.Add(1)
			if f.panicGet.Load() > 0 {
				f.panicGet.Add(-1)
				panic("fetch exploded")
			}
			if f.failFetch.Load() > 0 {
				f.failFetch.Add(-1)
				return nil, errors.New("fetch failed")
			}
			return f.version.Load(), nil
		},
	}
}

type countingInstruments struct {
	ticks    atomic.Int64
	failures atomic.Int64
	changes  atomic.Int64
}

func (c *countingInstruments) TickCompleted(time.Duration) { c.ticks.Add(1) }
func (c *countingInstruments) TickFailed(string)           { c.failures.Add(1) }
func (c *countingInstruments) ChangeDelivered(string)      { c.changes.Add(1) }

func startPoller(t *testing.T, p *poller.Poller) {
	t.Helper()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
}

func waitChange(t *testing.T, ch <-chan poller.Change, within time.Duration) poller.Change {
	t.Helper()
	select {
	case change := <-ch:
		return change
	case <-time.After(within):
		t.Fatalf("no change within %s", within)
		return poller.Change{}
	}
}

func TestPollerNotifiesWithinOneInterval(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewEvent(t, store, "E1")

	p, err := poller.New(poller.LedgerSources(store, 10), poller.Options{Interval: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes := make(chan poller.Change, 8)
	p.Register(func(c poller.Change) {
		if c.Type == poller.TypeRecordsUpdated {
			changes <- c
		}
	})
	startPoller(t, p)

	if _, err := store.RecordAttendance(context.Background(), ledger.RecordRequest{EventID: "E1", ParticipantID: "P1", Slot: "morning"}); err != nil {
		t.Fatalf("RecordAttendance: %v", err)
	}
	written := time.Now()
	change := waitChange(t, changes, time.Second)
	if latency := time.Since(written); latency > 300*time.Millisecond {
		t.Fatalf("notification took %s, want <= 300ms", latency)
	}
	records, ok := change.Data.([]ledger.Record)
	if !ok || len(records) != 1 || records[0].ParticipantID != "P1" {
		t.Fatalf("unexpected change data: %#v", change.Data)
	}
	if change.Model != "records" || change.Version != 1 {
		t.Fatalf("unexpected change metadata: %+v", change)
	}
}

func TestPollerBaselineSuppressesExistingState(t *testing.T) {
	src := &fakeSource{}
	src.version.Store(7)
	p, err := poller.New([]poller.Source{src.source("records", poller.TypeRecordsUpdated)}, poller.Options{Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes := make(chan poller.Change, 8)
	p.Register(func(c poller.Change) { changes <- c })
	startPoller(t, p)

	select {
	case c := <-changes:
		t.Fatalf("unexpected change before any write: %+v", c)
	case <-time.After(150 * time.Millisecond):
	}
	if got := p.Watermarks()["records"]; got != 7 {
		t.Fatalf("expected baseline watermark 7, got %d", got)
	}

	src.version.Store(8)
	change := waitChange(t, changes, time.Second)
	if change.Version != 8 || change.Data.(int64) != 8 {
		t.Fatalf("unexpected change: %+v", change)
	}
}

func TestPollerEmitInitial(t *testing.T) {
	src := &fakeSource{}
	src.version.Store(3)
	p, err := poller.New([]poller.Source{src.source("events", poller.TypeEventsUpdated)}, poller.Options{
		Interval:    20 * time.Millisecond,
		EmitInitial: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes := make(chan poller.Change, 8)
	p.Register(func(c poller.Change) { changes <- c })
	startPoller(t, p)

	change := waitChange(t, changes, time.Second)
	if change.Type != poller.TypeEventsUpdated || change.Version != 3 {
		t.Fatalf("unexpected initial change: %+v", change)
	}
}

func TestPollerFetchFailureRetriesPendingChange(t *testing.T) {
	src := &fakeSource{}
	instruments := &countingInstruments{}
	p, err := poller.New([]poller.Source{src.source("records", poller.TypeRecordsUpdated)}, poller.Options{
		Interval:    30 * time.Millisecond,
		Instruments: instruments,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes := make(chan poller.Change, 8)
	p.Register(func(c poller.Change) { changes <- c })
	startPoller(t, p)

	src.failFetch.Store(2)
	src.failVer.Store(1)
	src.version.Store(1)

	change := waitChange(t, changes, 2*time.Second)
	if change.Version != 1 {
		t.Fatalf("expected pending change delivered, got %+v", change)
	}
	if instruments.failures.Load() != 3 {
		t.Fatalf("expected 3 tick failures, got %d", instruments.failures.Load())
	}
	if src.fetches.Load() != 3 {
		t.Fatalf("expected fetch retried until success, got %d fetches", src.fetches.Load())
	}
	if !p.Running() {
		t.Fatal("poller must keep running after failures")
	}
	if instruments.ticks.Load() == 0 || instruments.changes.Load() != 1 {
		t.Fatalf("unexpected instrument counts: ticks=%d changes=%d", instruments.ticks.Load(), instruments.changes.Load())
	}
}

func TestPollerObserverPanicIsContained(t *testing.T) {
	src := &fakeSource{}
	p, err := poller.New([]poller.Source{src.source("records", poller.TypeRecordsUpdated)}, poller.Options{Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var order []string
	var mu sync.Mutex
	p.Register(func(poller.Change) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		panic("observer bug")
	})
	changes := make(chan poller.Change, 8)
	p.Register(func(c poller.Change) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		changes <- c
	})
	startPoller(t, p)

	src.version.Store(1)
	waitChange(t, changes, time.Second)
	src.version.Store(2)
	waitChange(t, changes, time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "first", "second"}
	if len(order) != len(want) {
		t.Fatalf("unexpected call order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected call order: %v", order)
		}
	}
}

func TestPollerSourcePanicIsContained(t *testing.T) {
	src := &fakeSource{}
	instruments := &countingInstruments{}
	p, err := poller.New([]poller.Source{src.source("records", poller.TypeRecordsUpdated)}, poller.Options{
		Interval:    20 * time.Millisecond,
		Instruments: instruments,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes := make(chan poller.Change, 8)
	p.Register(func(c poller.Change) { changes <- c })
	startPoller(t, p)

	src.panicVer.Store(2)
	src.panicGet.Store(1)
	src.version.Store(1)

	change := waitChange(t, changes, 2*time.Second)
	if change.Version != 1 {
		t.Fatalf("expected pending change after panics, got %+v", change)
	}
	if src.panicVer.Load() != 0 || src.panicGet.Load() != 0 {
		t.Fatal("expected both panics to have fired before delivery")
	}
	if instruments.failures.Load() != 3 {
		t.Fatalf("expected 3 tick failures, got %d", instruments.failures.Load())
	}
	if !p.Running() {
		t.Fatal("poller stopped after a source panicked")
	}
}

func TestPollerBaselinePanicIsContained(t *testing.T) {
	src := &fakeSource{}
	src.panicVer.Store(1)
	src.version.Store(4)
	p, err := poller.New([]poller.Source{src.source("records", poller.TypeRecordsUpdated)}, poller.Options{Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes := make(chan poller.Change, 8)
	p.Register(func(c poller.Change) { changes <- c })
	startPoller(t, p)

	change := waitChange(t, changes, time.Second)
	if change.Version != 4 {
		t.Fatalf("expected state to surface after a failed baseline, got %+v", change)
	}
}

func TestPollerUnregister(t *testing.T) {
	src := &fakeSource{}
	p, err := poller.New([]poller.Source{src.source("records", poller.TypeRecordsUpdated)}, poller.Options{Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var removedCalls atomic.Int64
	unregister := p.Register(func(poller.Change) { removedCalls.Add(1) })
	changes := make(chan poller.Change, 8)
	p.Register(func(c poller.Change) { changes <- c })
	unregister()
	startPoller(t, p)

	src.version.Store(1)
	waitChange(t, changes, time.Second)
	if removedCalls.Load() != 0 {
		t.Fatalf("unregistered observer was called %d times", removedCalls.Load())
	}
}

func TestPollerStopIsBounded(t *testing.T) {
	src := &fakeSource{}
	p, err := poller.New([]poller.Source{src.source("records", poller.TypeRecordsUpdated)}, poller.Options{
		Interval:    10 * time.Millisecond,
		StopTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	p.Register(func(poller.Change) {
		entered <- struct{}{}
		<-release
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	src.version.Store(1)
	<-entered

	started := time.Now()
	if p.Stop() {
		t.Fatal("expected Stop to report timeout while observer blocks")
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("Stop blocked for %s", elapsed)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for p.Running() {
		if time.Now().After(deadline) {
			t.Fatal("poller never exited")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !p.Stop() {
		t.Fatal("stopping a stopped poller should succeed")
	}
}

func TestNewRejectsInvalidSources(t *testing.T) {
	src := &fakeSource{}
	if _, err := poller.New([]poller.Source{{Name: "records"}}, poller.Options{}); err == nil {
		t.Fatal("expected error for source without type")
	}
	dup := src.source("records", poller.TypeRecordsUpdated)
	if _, err := poller.New([]poller.Source{dup, dup}, poller.Options{}); err == nil {
		t.Fatal("expected error for duplicate source")
	}
}

func TestLedgerSourcesReportEachModel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	p, err := poller.New(poller.LedgerSources(store, 5), poller.Options{Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes := make(chan poller.Change, 16)
	p.Register(func(c poller.Change) { changes <- c })
	startPoller(t, p)

	testsupport.NewEvent(t, store, "E1")
	if c := waitChange(t, changes, time.Second); c.Type != poller.TypeEventsUpdated {
		t.Fatalf("expected events_updated, got %s", c.Type)
	}
	if _, err := store.UpsertParticipant(context.Background(), ledger.ParticipantInput{ID: "P1", DisplayName: "Pat"}); err != nil {
		t.Fatalf("UpsertParticipant: %v", err)
	}
	c := waitChange(t, changes, time.Second)
	if c.Type != poller.TypeRosterUpdated {
		t.Fatalf("expected roster_updated, got %s", c.Type)
	}
	if roster, ok := c.Data.([]ledger.Participant); !ok || len(roster) != 1 {
		t.Fatalf("unexpected roster data: %#v", c.Data)
	}
}
