package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"qrattend/internal/config"
	"qrattend/internal/ledger"
)

// targetFlags selects the event and slot, defaulting to the station's.
type targetFlags struct {
	event string
	slot  string
}

func (f *targetFlags) register(cmd *cobra.Command, withSlot bool) {
	cmd.Flags().StringVarP(&f.event, "event", "e", "", "Event id (default: station.event_id)")
	if withSlot {
		cmd.Flags().StringVarP(&f.slot, "slot", "s", "", "Slot (default: station.slot)")
	}
}

func (f *targetFlags) resolve(cfg *config.Config) (string, string, error) {
	eventID := strings.TrimSpace(f.event)
	if eventID == "" {
		eventID = cfg.Station.EventID
	}
	if eventID == "" {
		return "", "", fmt.Errorf("%w: no event given and station.event_id is not configured", ledger.ErrInvalidInput)
	}
	slot := strings.TrimSpace(f.slot)
	if slot == "" {
		slot = cfg.Station.Slot
	}
	return eventID, slot, nil
}

func newAttendanceCommand(ctx *commandContext) *cobra.Command {
	attendanceCmd := &cobra.Command{
		Use:   "attendance",
		Short: "Record and inspect attendance",
	}
	attendanceCmd.AddCommand(newAttendanceRecordCommand(ctx))
	attendanceCmd.AddCommand(newAttendanceListCommand(ctx))
	attendanceCmd.AddCommand(newAttendanceSummaryCommand(ctx))
	attendanceCmd.AddCommand(newAttendanceSeedCommand(ctx))
	attendanceCmd.AddCommand(newAttendanceCheckCommand(ctx))
	return attendanceCmd
}

func newAttendanceRecordCommand(ctx *commandContext) *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "record <participant id>",
		Short: "Mark a participant present, as a scan would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				eventID, slot, err := target.resolve(cfg)
				if err != nil {
					return err
				}
				outcome, err := store.RecordAttendance(cmd.Context(), ledger.RecordRequest{
					EventID:       eventID,
					ParticipantID: args[0],
					Slot:          slot,
					StationID:     cfg.Station.ID,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s (%s/%s)\n", strings.TrimSpace(args[0]), outcomeLabel(outcome, shouldColorize(out)), eventID, slot)
				return nil
			})
		},
	}
	target.register(cmd, true)
	return cmd
}

func newAttendanceListCommand(ctx *commandContext) *cobra.Command {
	var (
		target targetFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List attendance records for an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				eventID, _, err := target.resolve(cfg)
				if err != nil {
					return err
				}
				records, err := store.ListAttendance(cmd.Context(), eventID)
				if err != nil {
					return err
				}
				if slot := strings.TrimSpace(target.slot); slot != "" {
					filtered := records[:0]
					for _, rec := range records {
						if rec.Slot == slot {
							filtered = append(filtered, rec)
						}
					}
					records = filtered
				}
				if asJSON {
					if records == nil {
						records = []ledger.Record{}
					}
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintf(out, "No attendance records for %s\n", eventID)
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						formatLocal(rec.RecordedAt),
						rec.ParticipantID,
						rec.ParticipantName,
						rec.Slot,
						statusLabel(rec.Status, colorize),
						rec.StationID,
					})
				}
				fmt.Fprintln(out, renderTable(tableSpec{
					title:   "Attendance " + eventID,
					headers: []string{"Recorded", "ID", "Name", "Slot", "Status", "Station"},
					rows:    rows,
				}))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&target.event, "event", "e", "", "Event id (default: station.event_id)")
	cmd.Flags().StringVarP(&target.slot, "slot", "s", "", "Only show this slot")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newAttendanceSummaryCommand(ctx *commandContext) *cobra.Command {
	var (
		target targetFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count present and absent participants per slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				eventID, _, err := target.resolve(cfg)
				if err != nil {
					return err
				}
				summary, err := store.Summary(cmd.Context(), eventID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, summary)
				}
				rows := make([][]string, 0, len(summary.Slots))
				var present, absent int
				for _, count := range summary.Slots {
					rows = append(rows, []string{count.Slot, strconv.Itoa(count.Present), strconv.Itoa(count.Absent)})
					present += count.Present
					absent += count.Absent
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(tableSpec{
					title:   "Summary " + eventID,
					headers: []string{"Slot", "Present", "Absent"},
					rows:    rows,
					aligns:  []columnAlignment{alignLeft, alignRight, alignRight},
					footer:  []string{"total", strconv.Itoa(present), strconv.Itoa(absent)},
				}))
				return nil
			})
		},
	}
	target.register(cmd, false)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newAttendanceSeedCommand(ctx *commandContext) *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create absent rows for every roster participant without a record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				eventID, slot, err := target.resolve(cfg)
				if err != nil {
					return err
				}
				roster, err := store.ListParticipants(cmd.Context())
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(roster))
				for _, p := range roster {
					ids = append(ids, p.ID)
				}
				created, err := store.SeedAbsent(cmd.Context(), eventID, slot, ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d absent rows for %s/%s\n", created, eventID, slot)
				return nil
			})
		},
	}
	target.register(cmd, true)
	return cmd
}

func newAttendanceCheckCommand(ctx *commandContext) *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "check <participant id>",
		Short: "Report whether a participant is checked in",
		Long:  "Without --slot the earliest check-in across all slots is reported.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				eventID, _, err := target.resolve(cfg)
				if err != nil {
					return err
				}
				participantID := strings.TrimSpace(args[0])
				out := cmd.OutOrStdout()
				if slot := strings.TrimSpace(target.slot); slot != "" {
					at, err := store.IsCheckedIn(cmd.Context(), eventID, participantID, slot)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s %s/%s: checked in %s", participantID, eventID, slot, yesNo(at != nil))
					if at != nil {
						fmt.Fprintf(out, " at %s", formatLocal(at))
					}
					fmt.Fprintln(out)
					return nil
				}
				first, err := store.CheckedInAnySlot(cmd.Context(), eventID, participantID)
				if err != nil {
					return err
				}
				if first == nil {
					fmt.Fprintf(out, "%s %s: checked in no\n", participantID, eventID)
					return nil
				}
				fmt.Fprintf(out, "%s %s: checked in yes (first: %s at %s)\n", participantID, eventID, first.Slot, formatLocal(first.RecordedAt))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&target.event, "event", "e", "", "Event id (default: station.event_id)")
	cmd.Flags().StringVarP(&target.slot, "slot", "s", "", "Check one slot only")
	return cmd
}
