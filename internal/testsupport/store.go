package testsupport

import (
	"context"
	"testing"

	"qrattend/internal/config"
	"qrattend/internal/ledger"
)

// MustOpenStore opens a ledger.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewEvent creates an event with a fixed id for tests.
func NewEvent(t testing.TB, store *ledger.Store, id string) *ledger.Event {
	t.Helper()

	evt, err := store.CreateEvent(context.Background(), ledger.EventInput{
		ID:   id,
		Name: "Event " + id,
		Date: "2026-03-14",
	})
	if err != nil {
		t.Fatalf("store.CreateEvent: %v", err)
	}
	return evt
}
