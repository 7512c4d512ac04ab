package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qrattend/internal/api"
	"qrattend/internal/config"
	"qrattend/internal/feed"
	"qrattend/internal/ledger"
	"qrattend/internal/metrics"
	"qrattend/internal/testsupport"
)

type fixedStatus struct{ status api.StationStatus }

func (f fixedStatus) Status(context.Context) api.StationStatus { return f.status }

type fixture struct {
	cfg     *config.Config
	store   *ledger.Store
	hub     *feed.Hub
	handler http.Handler
}

func newFixture(t *testing.T, token string) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.API.Token = token
	store := testsupport.MustOpenStore(t, cfg)
	hub := feed.NewHub(8)
	server := api.New(cfg, api.Dependencies{
		Ledger:  store,
		Feed:    hub,
		Metrics: metrics.New(),
		Status:  fixedStatus{status: api.StationStatus{StationID: "test-station", EventID: "evt-test", Slot: "morning"}},
	})
	if server == nil {
		t.Fatal("expected server")
	}
	return fixture{cfg: cfg, store: store, hub: hub, handler: server.Handler()}
}

func (f fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNewReturnsNilWithoutBind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = ""
	store := testsupport.MustOpenStore(t, cfg)
	if server := api.New(cfg, api.Dependencies{Ledger: store}); server != nil {
		t.Fatal("expected nil server when bind is empty")
	}
}

func TestBearerTokenRequired(t *testing.T) {
	f := newFixture(t, "s3cret")

	if rec := f.get(t, "/api/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.get(t, "/api/status", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	rec := f.get(t, "/api/status", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	status := decode[api.StationStatus](t, rec)
	if status.StationID != "test-station" || status.Slot != "morning" {
		t.Fatalf("unexpected status: %#v", status)
	}
	// Health stays open for probes.
	if rec := f.get(t, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected open healthz, got %d", rec.Code)
	}
}

func TestEventsAndAttendance(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	testsupport.NewEvent(t, f.store, "evt-test")
	if _, err := f.store.UpsertParticipant(ctx, ledger.ParticipantInput{ID: "S001", DisplayName: "Ada Lovelace"}); err != nil {
		t.Fatalf("UpsertParticipant: %v", err)
	}
	if _, err := f.store.RecordAttendance(ctx, ledger.RecordRequest{EventID: "evt-test", ParticipantID: "S001", Slot: "morning"}); err != nil {
		t.Fatalf("RecordAttendance: %v", err)
	}
	if _, err := f.store.SeedAbsent(ctx, "evt-test", "lunch", []string{"S001", "S002"}); err != nil {
		t.Fatalf("SeedAbsent: %v", err)
	}

	events := decode[api.EventListResponse](t, f.get(t, "/api/events", ""))
	if len(events.Events) != 1 || events.Events[0].ID != "evt-test" {
		t.Fatalf("unexpected events: %#v", events)
	}

	if rec := f.get(t, "/api/events/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown event, got %d", rec.Code)
	}

	for _, slot := range []string{"morning", "Morning", "%20MORNING%20"} {
		attendance := decode[api.AttendanceResponse](t, f.get(t, "/api/events/evt-test/attendance?slot="+slot, ""))
		if len(attendance.Records) != 1 || attendance.Records[0].ParticipantName != "Ada Lovelace" {
			t.Fatalf("slot %q: unexpected attendance: %#v", slot, attendance)
		}
	}
	if rec := f.get(t, "/api/events/evt-test/attendance?slot=dinner", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown attendance slot, got %d", rec.Code)
	}

	summary := decode[ledger.Summary](t, f.get(t, "/api/events/evt-test/summary", ""))
	if summary.Present("morning") != 1 {
		t.Fatalf("unexpected summary: %#v", summary)
	}

	checkIn := decode[api.CheckInResponse](t, f.get(t, "/api/events/evt-test/participants/S001?slot=morning", ""))
	if !checkIn.CheckedIn || checkIn.RecordedAt == "" {
		t.Fatalf("expected S001 checked in for morning: %#v", checkIn)
	}
	checkIn = decode[api.CheckInResponse](t, f.get(t, "/api/events/evt-test/participants/S001?slot=lunch", ""))
	if checkIn.CheckedIn {
		t.Fatalf("absent row must not count as checked in: %#v", checkIn)
	}
	checkIn = decode[api.CheckInResponse](t, f.get(t, "/api/events/evt-test/participants/S001", ""))
	if !checkIn.CheckedIn || checkIn.FirstRecord == nil || checkIn.FirstRecord.Slot != "morning" {
		t.Fatalf("unexpected any-slot check: %#v", checkIn)
	}

	if rec := f.get(t, "/api/events/evt-test/participants/S001?slot=dinner", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown slot, got %d", rec.Code)
	}
}

func TestFeedCursorAndWait(t *testing.T) {
	f := newFixture(t, "")
	f.hub.Publish(feed.Event{Type: feed.TypeSessionStarted})
	f.hub.Publish(feed.Event{Type: feed.TypeAttendance, ParticipantID: "S001"})

	resp := decode[api.FeedResponse](t, f.get(t, "/api/feed?since=0", ""))
	if len(resp.Events) != 2 || resp.Next != 2 || resp.Missed {
		t.Fatalf("unexpected feed: %#v", resp)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.hub.Publish(feed.Event{Type: feed.TypeAttendance, ParticipantID: "S002"})
	}()
	resp = decode[api.FeedResponse](t, f.get(t, "/api/feed?since=2&wait=1&timeout=2s", ""))
	if len(resp.Events) != 1 || resp.Events[0].ParticipantID != "S002" || resp.Next != 3 {
		t.Fatalf("unexpected waited feed: %#v", resp)
	}

	started := time.Now()
	resp = decode[api.FeedResponse](t, f.get(t, "/api/feed?since=3&wait=1&timeout=50ms", ""))
	if len(resp.Events) != 0 || resp.Next != 3 {
		t.Fatalf("expected empty feed after timeout: %#v", resp)
	}
	if time.Since(started) > time.Second {
		t.Fatal("feed wait ignored timeout")
	}

	for i := 0; i < 10; i++ {
		f.hub.Publish(feed.Event{Type: feed.TypeCodeDetected})
	}
	resp = decode[api.FeedResponse](t, f.get(t, "/api/feed?since=1", ""))
	if !resp.Missed || resp.First != 6 {
		t.Fatalf("expected missed cursor, got %#v", resp)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t, "")
	if rec := f.get(t, "/api/preview", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any preview, got %d", rec.Code)
	}
	f.hub.SetPreview(feed.Snapshot{Seq: 7, ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}})
	rec := f.get(t, "/api/preview", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" || rec.Header().Get("X-Frame-Seq") != "7" {
		t.Fatalf("unexpected preview response: %d %v", rec.Code, rec.Header())
	}
}

func TestHealthReportsLedgerFailure(t *testing.T) {
	f := newFixture(t, "")
	if err := f.store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rec := f.get(t, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	health := decode[api.HealthResponse](t, rec)
	if health.Ledger != "unavailable" || health.Error == "" {
		t.Fatalf("unexpected health payload: %#v", health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "")
	rec := f.get(t, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("unexpected metrics response: %d", rec.Code)
	}
}

func TestStartServesOnListener(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	server := api.New(cfg, api.Dependencies{Ledger: store})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer server.Stop()

	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
