package ledger_test

import (
	"context"
	"errors"
	"testing"

	"qrattend/internal/ledger"
	"qrattend/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if err := store.CheckHealth(ctx); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	versions, err := store.Versions(ctx)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	for _, model := range []ledger.Model{ledger.ModelRecords, ledger.ModelEvents, ledger.ModelParticipants} {
		if v, ok := versions[model]; !ok || v != 0 {
			t.Fatalf("expected %s version 0, got %d (present=%v)", model, v, ok)
		}
	}
	if store.Driver() != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", store.Driver())
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testsupport.NewEvent(t, first, "evt-1")
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := testsupport.MustOpenStore(t, cfg)
	evt, err := second.GetEvent(ctx, "evt-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if evt == nil || evt.Name != "Event evt-1" {
		t.Fatalf("expected persisted event, got %#v", evt)
	}
}

func TestCreateEventValidatesInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	cases := []struct {
		name  string
		input ledger.EventInput
	}{
		{"missing name", ledger.EventInput{Date: "2026-03-14"}},
		{"missing date", ledger.EventInput{Name: "Orientation"}},
		{"bad date", ledger.EventInput{Name: "Orientation", Date: "14/03/2026"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.CreateEvent(ctx, tc.input); !errors.Is(err, ledger.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateEventAssignsIDAndBumpsVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	evt, err := store.CreateEvent(ctx, ledger.EventInput{Name: "Orientation", Date: "2026-03-14", Description: " day one "})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if evt.ID == "" {
		t.Fatal("expected generated id")
	}
	if evt.Description != "day one" {
		t.Fatalf("expected trimmed description, got %q", evt.Description)
	}
	if _, err := store.CreateEvent(ctx, ledger.EventInput{ID: evt.ID, Name: "Again", Date: "2026-03-15"}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected duplicate id rejection, got %v", err)
	}
	version, err := store.Version(ctx, ledger.ModelEvents)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected events version 1, got %d", version)
	}

	events, err := store.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != evt.ID {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestUpsertParticipantNormalizesName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	p, err := store.UpsertParticipant(ctx, ledger.ParticipantInput{ID: " S001 ", DisplayName: "ada   lovelace", Cohort: "2026"})
	if err != nil {
		t.Fatalf("UpsertParticipant: %v", err)
	}
	if p.ID != "S001" || p.DisplayName != "Ada Lovelace" || p.Cohort != "2026" {
		t.Fatalf("unexpected participant: %#v", p)
	}

	p, err = store.UpsertParticipant(ctx, ledger.ParticipantInput{ID: "S001", DisplayName: "Ada King", Section: "B"})
	if err != nil {
		t.Fatalf("UpsertParticipant update: %v", err)
	}
	if p.DisplayName != "Ada King" || p.Cohort != "" || p.Section != "B" {
		t.Fatalf("unexpected updated participant: %#v", p)
	}

	missing, err := store.GetParticipant(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown participant, got %#v", missing)
	}

	if _, err := store.UpsertParticipant(ctx, ledger.ParticipantInput{ID: "S002"}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing name, got %v", err)
	}

	version, err := store.Version(ctx, ledger.ModelParticipants)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected participants version 2, got %d", version)
	}
}

func TestStorageErrorsAreTyped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := store.GetEvent(context.Background(), "evt-1")
	if !errors.Is(err, ledger.ErrStorage) {
		t.Fatalf("expected ErrStorage after close, got %v", err)
	}
	var storageErr *ledger.StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "get event" {
		t.Fatalf("expected StorageError with op, got %#v", err)
	}
}
