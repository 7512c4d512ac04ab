package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"qrattend/internal/config"
	"qrattend/internal/feed"
	"qrattend/internal/ledger"
	"qrattend/internal/logging"
	"qrattend/internal/poller"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var (
		useRedis bool
		interval time.Duration
		initial  bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow ledger changes as they happen",
		Long: "By default the ledger is polled directly. With --redis the command " +
			"subscribes to a station's feed channel instead and prints every feed event.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if useRedis {
				return watchRedis(cmd.Context(), cfg, cmd.OutOrStdout())
			}
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				return watchLedger(cmd.Context(), cfg, store, cmd.OutOrStdout(), interval, initial)
			})
		},
	}
	cmd.Flags().BoolVar(&useRedis, "redis", false, "Subscribe to the station feed on redis.addr")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default: poller.interval_ms)")
	cmd.Flags().BoolVar(&initial, "initial", false, "Print current state before changes")
	return cmd
}

func watchLedger(ctx context.Context, cfg *config.Config, store *ledger.Store, out io.Writer, interval time.Duration, initial bool) error {
	if interval <= 0 {
		interval = time.Duration(cfg.Poller.IntervalMS) * time.Millisecond
	}
	p, err := poller.New(poller.LedgerSources(store, cfg.Poller.RecentLimit), poller.Options{
		Interval:    interval,
		EmitInitial: initial,
		Logger:      logging.NewNop(),
	})
	if err != nil {
		return err
	}
	colorize := shouldColorize(out)
	p.Register(func(change poller.Change) {
		printChange(out, change, colorize)
	})
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()
	fmt.Fprintf(out, "Watching %s every %s (Ctrl+C to stop)\n", store.Location(), interval)
	<-ctx.Done()
	return nil
}

func printChange(out io.Writer, change poller.Change, colorize bool) {
	stamp := change.ObservedAt.Local().Format("15:04:05")
	fmt.Fprintf(out, "%s %s v%d\n", paint(colorize, ansiDim, stamp), change.Type, change.Version)
	switch data := change.Data.(type) {
	case []ledger.Record:
		for _, rec := range data {
			name := rec.ParticipantName
			if name == "" {
				name = rec.ParticipantID
			}
			fmt.Fprintf(out, "  %s  %-24s %-10s %s\n", formatLocal(rec.RecordedAt), name, rec.Slot, statusLabel(rec.Status, colorize))
		}
	case []ledger.Event:
		for _, evt := range data {
			fmt.Fprintf(out, "  %s  %s  %s\n", evt.Date, evt.ID, evt.Name)
		}
	case []ledger.Participant:
		fmt.Fprintf(out, "  %d participants on the roster\n", len(data))
	}
}

func watchRedis(ctx context.Context, cfg *config.Config, out io.Writer) error {
	client := feed.NewRedisClient(cfg.Redis.Addr)
	defer client.Close()
	events, err := feed.Subscribe(ctx, client, cfg.Redis.Channel)
	if err != nil {
		return fmt.Errorf("subscribe to %s on %s: %w", cfg.Redis.Channel, cfg.Redis.Addr, err)
	}
	fmt.Fprintf(out, "Subscribed to %s on %s (Ctrl+C to stop)\n", cfg.Redis.Channel, cfg.Redis.Addr)
	colorize := shouldColorize(out)
	for evt := range events {
		printFeedEvent(out, evt, colorize)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printFeedEvent(out io.Writer, evt feed.Event, colorize bool) {
	stamp := evt.Timestamp.Local().Format("15:04:05")
	line := fmt.Sprintf("#%d %s", evt.Sequence, evt.Type)
	if evt.StationID != "" {
		line += " [" + evt.StationID + "]"
	}
	if evt.Message != "" {
		line += " " + evt.Message
	} else if evt.ParticipantID != "" {
		line += " " + evt.ParticipantID
	}
	if color := severityColor(evt.Severity); color != "" {
		line = paint(colorize, color, line)
	}
	fmt.Fprintf(out, "%s %s\n", paint(colorize, ansiDim, stamp), line)
}
