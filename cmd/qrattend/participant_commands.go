package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"qrattend/internal/config"
	"qrattend/internal/ledger"
)

func newParticipantCommand(ctx *commandContext) *cobra.Command {
	participantCmd := &cobra.Command{
		Use:     "participant",
		Aliases: []string{"roster"},
		Short:   "Manage the participant roster",
	}
	participantCmd.AddCommand(newParticipantAddCommand(ctx))
	participantCmd.AddCommand(newParticipantListCommand(ctx))
	participantCmd.AddCommand(newParticipantImportCommand(ctx))
	return participantCmd
}

func newParticipantAddCommand(ctx *commandContext) *cobra.Command {
	var input ledger.ParticipantInput

	cmd := &cobra.Command{
		Use:   "add <id> <display name>",
		Short: "Add or update a participant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input.ID = args[0]
			input.DisplayName = args[1]
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				p, err := store.UpsertParticipant(cmd.Context(), input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved participant %s (%s)\n", p.ID, p.DisplayName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input.Cohort, "cohort", "", "Cohort")
	cmd.Flags().StringVar(&input.Section, "section", "", "Section")
	return cmd
}

func newParticipantListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				roster, err := store.ListParticipants(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if roster == nil {
						roster = []ledger.Participant{}
					}
					return writeJSON(cmd, roster)
				}
				out := cmd.OutOrStdout()
				if len(roster) == 0 {
					fmt.Fprintln(out, "Roster is empty")
					return nil
				}
				rows := make([][]string, 0, len(roster))
				for _, p := range roster {
					rows = append(rows, []string{p.ID, p.DisplayName, p.Cohort, p.Section})
				}
				fmt.Fprintln(out, renderTable(tableSpec{
					headers: []string{"ID", "Name", "Cohort", "Section"},
					rows:    rows,
					footer:  []string{"", fmt.Sprintf("%d participants", len(roster))},
				}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

// newParticipantImportCommand loads a CSV with columns id,name[,cohort[,section]].
// A header row starting with "id" is skipped.
func newParticipantImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import participants from CSV (id,name,cohort,section)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open roster: %w", err)
			}
			defer file.Close()
			inputs, err := readRoster(file)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				for i, input := range inputs {
					if _, err := store.UpsertParticipant(cmd.Context(), input); err != nil {
						return fmt.Errorf("row %d (%s): %w", i+1, input.ID, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d participants\n", len(inputs))
				return nil
			})
		},
	}
}

func readRoster(r io.Reader) ([]ledger.ParticipantInput, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var inputs []ledger.ParticipantInput
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "id") {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("roster line %d: expected at least id and name", line)
		}
		input := ledger.ParticipantInput{ID: record[0], DisplayName: record[1]}
		if len(record) > 2 {
			input.Cohort = record[2]
		}
		if len(record) > 3 {
			input.Section = record[3]
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}
