package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"qrattend/internal/config"
	"qrattend/internal/ledger"
)

func newEventCommand(ctx *commandContext) *cobra.Command {
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Manage events",
	}
	eventCmd.AddCommand(newEventCreateCommand(ctx))
	eventCmd.AddCommand(newEventListCommand(ctx))
	eventCmd.AddCommand(newEventDeleteCommand(ctx))
	return eventCmd
}

func newEventCreateCommand(ctx *commandContext) *cobra.Command {
	var input ledger.EventInput

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Name = args[0]
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				evt, err := store.CreateEvent(cmd.Context(), input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created event %s (%s on %s)\n", evt.ID, evt.Name, evt.Date)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input.ID, "id", "", "Event id (generated when empty)")
	cmd.Flags().StringVar(&input.Date, "date", "", "Event date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&input.Description, "description", "", "Optional description")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newEventListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				events, err := store.ListEvents(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if events == nil {
						events = []ledger.Event{}
					}
					return writeJSON(cmd, events)
				}
				out := cmd.OutOrStdout()
				if len(events) == 0 {
					fmt.Fprintln(out, "No events")
					return nil
				}
				rows := make([][]string, 0, len(events))
				for _, evt := range events {
					marker := ""
					if evt.ID == cfg.Station.EventID {
						marker = "*"
					}
					rows = append(rows, []string{marker, evt.ID, evt.Date, evt.Name, evt.Description})
				}
				fmt.Fprintln(out, renderTable(tableSpec{
					headers: []string{"", "ID", "Date", "Name", "Description"},
					rows:    rows,
				}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newEventDeleteCommand(ctx *commandContext) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an event and all of its attendance records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if !confirm {
				return errors.New("deleting an event removes its attendance records; pass --yes to confirm")
			}
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				existed, err := store.DeleteEvent(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !existed {
					return fmt.Errorf("%w: %s", ledger.ErrEventNotFound, id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted event %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm deletion")
	return cmd
}
