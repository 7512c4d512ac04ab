package poller

import (
	"context"

	"qrattend/internal/ledger"
)

// LedgerReader is the slice of the ledger the default sources read.
type LedgerReader interface {
	Version(ctx context.Context, model ledger.Model) (int64, error)
	RecentRecords(ctx context.Context, limit int) ([]ledger.Record, error)
	ListEvents(ctx context.Context) ([]ledger.Event, error)
	ListParticipants(ctx context.Context) ([]ledger.Participant, error)
}

// LedgerSources returns the records, events and roster sources.
func LedgerSources(store LedgerReader, recentLimit int) []Source {
	version := func(model ledger.Model) func(context.Context) (int64, error) {
		return func(ctx context.Context) (int64, error) {
			return store.Version(ctx, model)
		}
	}
	return []Source{
		{
			Name:    string(ledger.ModelRecords),
			Type:    TypeRecordsUpdated,
			Version: version(ledger.ModelRecords),
			Fetch: func(ctx context.Context) (any, error) {
				return store.RecentRecords(ctx, recentLimit)
			},
		},
		{
			Name:    string(ledger.ModelEvents),
			Type:    TypeEventsUpdated,
			Version: version(ledger.ModelEvents),
			Fetch: func(ctx context.Context) (any, error) {
				return store.ListEvents(ctx)
			},
		},
		{
			Name:    string(ledger.ModelParticipants),
			Type:    TypeRosterUpdated,
			Version: version(ledger.ModelParticipants),
			Fetch: func(ctx context.Context) (any, error) {
				return store.ListParticipants(ctx)
			},
		},
	}
}
