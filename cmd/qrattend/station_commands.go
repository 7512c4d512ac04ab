package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qrattend/internal/api"
	"qrattend/internal/capture"
	"qrattend/internal/stationrun"
)

func newStationCommand(ctx *commandContext) *cobra.Command {
	stationCmd := &cobra.Command{
		Use:   "station",
		Short: "Run and inspect a scanning station",
	}
	stationCmd.AddCommand(newStationRunCommand(ctx))
	stationCmd.AddCommand(newStationReplayCommand(ctx))
	stationCmd.AddCommand(newStationStatusCommand(ctx))
	return stationCmd
}

func newStationRunCommand(ctx *commandContext) *cobra.Command {
	var opts stationrun.Options
	var noAutostart bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the station in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if noAutostart {
				cfg.Capture.Autostart = false
			}
			return stationrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Development logging (source locations)")
	cmd.Flags().BoolVar(&noAutostart, "no-autostart", false, "Do not open the camera on start")
	return cmd
}

func newStationReplayCommand(ctx *commandContext) *cobra.Command {
	var opts stationrun.Options
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "replay <dir>",
		Short: "Drive a station from a directory of images instead of a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			frames, err := capture.LoadReplayDir(args[0])
			if err != nil {
				return err
			}
			reader := capture.NewScriptedReader(frames...)
			reader.Interval = interval
			cfg.Capture.Autostart = true
			cfg.Capture.HotplugMonitor = false
			opts.Reader = reader
			opts.ExitWhenCaptureEnds = true
			if err := stationrun.Run(cmd.Context(), cfg, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d frames from %s\n", len(frames), args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between frames")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	return cmd
}

func newStationStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running station via its API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			bind := strings.TrimSpace(cfg.API.Bind)
			if bind == "" {
				return fmt.Errorf("api.bind is empty; the station API is disabled")
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "http://"+bind+"/api/status", nil)
			if err != nil {
				return err
			}
			if cfg.API.Token != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.API.Token)
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("query station at %s: %w (is `qrattend station run` active?)", bind, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("query station: %s", resp.Status)
			}
			var status api.StationStatus
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			renderStationStatus(cmd, status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func renderStationStatus(cmd *cobra.Command, status api.StationStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	captureState := paint(colorize, ansiDim, "stopped")
	if status.CaptureRunning {
		captureState = paint(colorize, ansiGreen, "running")
	}
	rows := [][]string{
		{"Station", status.StationID},
		{"Operator", status.Operator},
		{"Event / slot", status.EventID + " / " + status.Slot},
		{"Session", status.SessionID},
		{"Device", fmt.Sprintf("%s (present: %s)", status.Device, yesNo(status.DevicePresent))},
		{"Capture", captureState},
		{"Poller", yesNo(status.PollerRunning)},
		{"Ledger", status.LedgerDriver + " " + status.LedgerLocation},
		{"Started", status.StartedAt},
		{"Feed cursor", fmt.Sprintf("%d", status.FeedCursor)},
	}
	if status.LastError != "" {
		rows = append(rows, []string{"Last error", paint(colorize, ansiRed, status.LastError)})
	}
	fmt.Fprintln(out, renderTable(tableSpec{headers: []string{"Field", "Value"}, rows: rows}))
}
