package capture_test

import (
	"context"
	"errors"
	"image"
	"iter"
	"sync"
	"testing"
	"time"

	"qrattend/internal/capture"
	"qrattend/internal/ledger"
	"qrattend/internal/testsupport"
)

type hookLog struct {
	mu        sync.Mutex
	detected  []capture.Detection
	outcomes  []capture.Result
	errs      []error
	previews  []capture.Preview
	stoppedCh chan error
}

func newHookLog() *hookLog {
	return &hookLog{stoppedCh: make(chan error, 4)}
}

func (h *hookLog) hooks() capture.Hooks {
	return capture.Hooks{
		OnCodeDetected: func(d capture.Detection) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.detected = append(h.detected, d)
		},
		OnOutcome: func(r capture.Result) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.outcomes = append(h.outcomes, r)
		},
		OnError: func(err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.errs = append(h.errs, err)
		},
		OnFrameUpdate: func(p capture.Preview) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.previews = append(h.previews, p)
		},
		OnStopped: func(reason error) {
			h.stoppedCh <- reason
		},
	}
}

func (h *hookLog) snapshot() ([]capture.Detection, []capture.Result, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]capture.Detection(nil), h.detected...),
		append([]capture.Result(nil), h.outcomes...),
		append([]error(nil), h.errs...)
}

func waitDone(t *testing.T, session *capture.Session) {
	t.Helper()
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

// seqDecoder returns a fixed payload for selected frame sequence numbers.
func seqDecoder(payloads map[uint64]string) capture.Decoder {
	return capture.DecoderFunc(func(frame capture.Frame) iter.Seq[string] {
		return func(yield func(string) bool) {
			if p, ok := payloads[frame.Seq]; ok {
				yield(p)
			}
		}
	})
}

type stubRecorder struct {
	mu       sync.Mutex
	requests []ledger.RecordRequest
	block    chan struct{}
	entered  chan struct{}
	ctxErrs  []error
	err      error
}

func (r *stubRecorder) RecordAttendance(ctx context.Context, req ledger.RecordRequest) (ledger.Outcome, error) {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if r.err != nil {
		return 0, r.err
	}
	return ledger.OutcomeRecorded, nil
}

func blankFrames(n int) []capture.ScriptedFrame {
	frames := make([]capture.ScriptedFrame, n)
	for i := range frames {
		frames[i] = capture.ScriptedFrame{Image: testsupport.BlankImage(8, 8)}
	}
	return frames
}

func station() capture.StationContext {
	return capture.StationContext{StationID: "gate-a", Operator: "ops", EventID: "evt-test", Slot: "morning"}
}

func TestSessionEndToEndScenario(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewEvent(t, store, "evt-test")
	if _, err := store.UpsertParticipant(context.Background(), ledger.ParticipantInput{ID: "S001", DisplayName: "ada lovelace"}); err != nil {
		t.Fatalf("UpsertParticipant: %v", err)
	}

	code := testsupport.QRImage(t, "S001", 240)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	reader := capture.NewScriptedReader(
		capture.ScriptedFrame{Image: code, At: base},
		capture.ScriptedFrame{Image: code, At: base.Add(1500 * time.Millisecond)},
		capture.ScriptedFrame{Image: code, At: base.Add(5 * time.Second)},
	)
	log := newHookLog()
	session, err := capture.NewSession(station(), reader, capture.NewQRDecoder(nil), store, store, log.hooks(), capture.Options{
		Cooldown: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	detected, outcomes, errs := log.snapshot()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(detected) != 2 {
		t.Fatalf("expected 2 accepted detections (t=0 and t=5), got %d", len(detected))
	}
	if !detected[0].DetectedAt.Equal(base) || !detected[1].DetectedAt.Equal(base.Add(5*time.Second)) {
		t.Fatalf("unexpected detection times: %v, %v", detected[0].DetectedAt, detected[1].DetectedAt)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 ledger writes, got %d", len(outcomes))
	}
	if outcomes[0].Outcome != ledger.OutcomeRecorded || outcomes[1].Outcome != ledger.OutcomeAlreadyPresent {
		t.Fatalf("unexpected outcomes: %s, %s", outcomes[0].Outcome, outcomes[1].Outcome)
	}
	if outcomes[0].ParticipantName != "Ada Lovelace" {
		t.Fatalf("expected roster name, got %q", outcomes[0].ParticipantName)
	}

	summary, err := store.Summary(context.Background(), "evt-test")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Present("morning") != 1 {
		t.Fatalf("expected one present record, got %#v", summary)
	}
	if session.Running() {
		t.Fatal("expected session stopped after stream ended")
	}
	if reason := <-log.stoppedCh; reason != nil {
		t.Fatalf("expected clean stop, got %v", reason)
	}
}

func TestSessionStartDeviceUnavailable(t *testing.T) {
	reader := capture.NewScriptedReader()
	reader.OpenErr = errors.New("device busy")
	session, err := capture.NewSession(station(), reader, seqDecoder(nil), &stubRecorder{}, nil, capture.Hooks{}, capture.Options{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	err = session.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	var deviceErr *capture.DeviceError
	if !errors.As(err, &deviceErr) || deviceErr.Device != "/dev/video0" {
		t.Fatalf("expected DeviceError for /dev/video0, got %#v", err)
	}
	if session.Running() {
		t.Fatal("session must stay stopped")
	}
	if !session.Stop() {
		t.Fatal("stopping a stopped session should succeed")
	}
}

func TestSessionSkipsFrameErrorsBelowThreshold(t *testing.T) {
	frames := []capture.ScriptedFrame{
		{Err: errors.New("short read")},
		{Err: errors.New("short read")},
		{Image: testsupport.BlankImage(8, 8)},
	}
	reader := capture.NewScriptedReader(frames...)
	recorder := &stubRecorder{}
	log := newHookLog()
	session, err := capture.NewSession(station(), reader, seqDecoder(map[uint64]string{3: "S001"}), recorder, nil, log.hooks(), capture.Options{
		MaxConsecutiveFrameErrors: 3,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	_, outcomes, errs := log.snapshot()
	if len(outcomes) != 1 || outcomes[0].ParticipantID != "S001" {
		t.Fatalf("expected S001 recorded after transient errors, got %+v", outcomes)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 frame errors reported, got %v", errs)
	}
	var readErr *capture.FrameReadError
	if !errors.As(errs[0], &readErr) {
		t.Fatalf("expected FrameReadError, got %T", errs[0])
	}
	if session.LastError() != nil {
		t.Fatalf("expected no abort, got %v", session.LastError())
	}
}

func TestSessionAbortsAfterConsecutiveFrameErrors(t *testing.T) {
	frames := make([]capture.ScriptedFrame, 6)
	for i := range frames {
		frames[i] = capture.ScriptedFrame{Err: errors.New("device unplugged")}
	}
	reader := capture.NewScriptedReader(frames...)
	log := newHookLog()
	session, err := capture.NewSession(station(), reader, seqDecoder(nil), &stubRecorder{}, nil, log.hooks(), capture.Options{
		MaxConsecutiveFrameErrors: 3,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)
	reason := <-log.stoppedCh

	var abort *capture.AbortError
	if !errors.As(session.LastError(), &abort) || abort.Failures != 3 {
		t.Fatalf("expected AbortError after 3 failures, got %v", session.LastError())
	}
	if !errors.As(reason, &abort) {
		t.Fatalf("expected OnStopped to carry the abort, got %v", reason)
	}
	_, _, errs := log.snapshot()
	if len(errs) != 4 {
		t.Fatalf("expected 3 frame errors plus the abort, got %d: %v", len(errs), errs)
	}
	if reader.Closes() != 1 {
		t.Fatalf("expected reader closed once, got %d", reader.Closes())
	}
}

func TestSessionStartIsIdempotentAndStopCloses(t *testing.T) {
	reader := capture.NewScriptedReader(blankFrames(10000)...)
	reader.Interval = 5 * time.Millisecond
	session, err := capture.NewSession(station(), reader, seqDecoder(nil), &stubRecorder{}, nil, capture.Hooks{}, capture.Options{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := session.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !session.Running() {
		t.Fatal("expected running session")
	}
	if reader.Opens() != 1 {
		t.Fatalf("expected one open, got %d", reader.Opens())
	}
	if !session.Stop() {
		t.Fatal("expected Stop to finish within timeout")
	}
	if session.Running() {
		t.Fatal("expected stopped session")
	}
	if reader.Closes() != 1 {
		t.Fatalf("expected reader closed once, got %d", reader.Closes())
	}

	if err := session.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if reader.Opens() != 2 {
		t.Fatalf("expected reopen on restart, got %d", reader.Opens())
	}
	session.Stop()
}

func TestSessionStopDoesNotInterruptWrite(t *testing.T) {
	frames := blankFrames(1)
	reader := capture.NewScriptedReader(frames...)
	recorder := &stubRecorder{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	session, err := capture.NewSession(station(), reader, seqDecoder(map[uint64]string{1: "S001"}), recorder, nil, capture.Hooks{}, capture.Options{
		StopTimeout:  50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-recorder.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("write never started")
	}

	started := time.Now()
	if session.Stop() {
		t.Fatal("expected Stop to report timeout while a write is in flight")
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("Stop blocked for %s", elapsed)
	}

	close(recorder.block)
	waitDone(t, session)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.requests) != 1 {
		t.Fatalf("expected the write to complete, got %d", len(recorder.requests))
	}
	if recorder.ctxErrs[0] != nil {
		t.Fatalf("write context was cancelled by stop: %v", recorder.ctxErrs[0])
	}
	req := recorder.requests[0]
	if req.EventID != "evt-test" || req.Slot != "morning" || req.StationID != "gate-a" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestSessionReportsWriteErrorsAndContinues(t *testing.T) {
	reader := capture.NewScriptedReader(blankFrames(2)...)
	recorder := &stubRecorder{err: ledger.ErrEventNotFound}
	log := newHookLog()
	session, err := capture.NewSession(station(), reader, seqDecoder(map[uint64]string{1: "S001", 2: "S002"}), recorder, nil, log.hooks(), capture.Options{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	detected, outcomes, errs := log.snapshot()
	if len(detected) != 2 || len(outcomes) != 0 {
		t.Fatalf("expected 2 detections and no outcomes, got %d/%d", len(detected), len(outcomes))
	}
	if len(errs) != 2 || !errors.Is(errs[0], ledger.ErrEventNotFound) {
		t.Fatalf("expected write errors surfaced, got %v", errs)
	}
}

func TestSessionSurvivesPanickingHook(t *testing.T) {
	reader := capture.NewScriptedReader(blankFrames(2)...)
	recorder := &stubRecorder{}
	var calls int
	hooks := capture.Hooks{
		OnCodeDetected: func(capture.Detection) {
			calls++
			panic("display crashed")
		},
	}
	session, err := capture.NewSession(station(), reader, seqDecoder(map[uint64]string{1: "S001", 2: "S002"}), recorder, nil, hooks, capture.Options{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	if calls != 2 {
		t.Fatalf("expected hook called for both codes, got %d", calls)
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.requests) != 2 {
		t.Fatalf("expected both writes despite hook panic, got %d", len(recorder.requests))
	}
}

func TestSessionEmitsPreviews(t *testing.T) {
	encoder, err := capture.NewPreviewEncoder("jpeg", 0, 50)
	if err != nil {
		t.Fatalf("NewPreviewEncoder: %v", err)
	}
	reader := capture.NewScriptedReader(blankFrames(4)...)
	log := newHookLog()
	session, err := capture.NewSession(station(), reader, seqDecoder(nil), &stubRecorder{}, nil, log.hooks(), capture.Options{
		PreviewEvery: 2,
		Preview:      encoder,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.previews) != 2 {
		t.Fatalf("expected 2 previews for 4 frames, got %d", len(log.previews))
	}
	if log.previews[0].Seq != 2 || log.previews[1].Seq != 4 {
		t.Fatalf("unexpected preview frames: %d, %d", log.previews[0].Seq, log.previews[1].Seq)
	}
	if len(log.previews[0].Data) == 0 {
		t.Fatal("expected encoded data")
	}
}

func TestNewSessionRequiresEventAndSlot(t *testing.T) {
	reader := capture.NewScriptedReader()
	if _, err := capture.NewSession(capture.StationContext{Slot: "morning"}, reader, seqDecoder(nil), &stubRecorder{}, nil, capture.Hooks{}, capture.Options{}); err == nil {
		t.Fatal("expected error without event id")
	}
	if _, err := capture.NewSession(capture.StationContext{EventID: "evt"}, reader, seqDecoder(nil), &stubRecorder{}, nil, capture.Hooks{}, capture.Options{}); err == nil {
		t.Fatal("expected error without slot")
	}
	session, err := capture.NewSession(station(), reader, seqDecoder(nil), &stubRecorder{}, nil, capture.Hooks{}, capture.Options{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if session.Station().SessionID == "" {
		t.Fatal("expected generated session id")
	}
}

func TestLoadReplayDir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "002.png", testsupport.QRImage(t, "S002", 200))
	writePNG(t, dir, "001.png", testsupport.QRImage(t, "S001", 200))

	frames, err := capture.LoadReplayDir(dir)
	if err != nil {
		t.Fatalf("LoadReplayDir: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	decoder := capture.NewQRDecoder(nil)
	var got []string
	for _, frame := range frames {
		for payload := range decoder.Decode(capture.Frame{Image: frame.Image}) {
			got = append(got, payload)
		}
	}
	if len(got) != 2 || got[0] != "S001" || got[1] != "S002" {
		t.Fatalf("expected files in name order, got %v", got)
	}

	if _, err := capture.LoadReplayDir(t.TempDir()); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func writePNG(t *testing.T, dir, name string, img image.Image) {
	t.Helper()
	if err := saveImage(dir, name, img); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
}
