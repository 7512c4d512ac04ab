package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"qrattend/internal/ledger"
)

type cliEnv struct {
	configPath string
	dataDir    string
}

func setupCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	dataDir := filepath.Join(base, "data")
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q

[station]
id = "cli-station"
event_id = "evt-cli"
slot = "morning"

[api]
bind = ""
token = "s3cret"
`, dataDir, filepath.Join(base, "logs"))
	configPath := filepath.Join(base, "qrattend.toml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cliEnv{configPath: configPath, dataDir: dataDir}
}

func runCLI(t *testing.T, env cliEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func mustRun(t *testing.T, env cliEnv, args ...string) string {
	t.Helper()
	out, err := runCLI(t, env, args...)
	if err != nil {
		t.Fatalf("qrattend %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestAttendanceWorkflow(t *testing.T) {
	env := setupCLIEnv(t)

	requireContains(t, mustRun(t, env, "event", "create", "Orientation", "--id", "evt-cli", "--date", "2026-03-14"), "Created event evt-cli")
	requireContains(t, mustRun(t, env, "participant", "add", "S001", "ada lovelace", "--cohort", "2026"), "Saved participant S001 (Ada Lovelace)")

	roster := filepath.Join(t.TempDir(), "roster.csv")
	if err := os.WriteFile(roster, []byte("id,name,cohort\nS002,Grace Hopper,2026\nS003,Alan Turing\n"), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	requireContains(t, mustRun(t, env, "participant", "import", roster), "Imported 2 participants")
	requireContains(t, mustRun(t, env, "participant", "list"), "3 participants")

	requireContains(t, mustRun(t, env, "attendance", "record", "S001"), "S001: recorded (evt-cli/morning)")
	requireContains(t, mustRun(t, env, "attendance", "record", "S001"), "S001: already present")
	requireContains(t, mustRun(t, env, "attendance", "record", "S002", "--slot", "lunch"), "S002: recorded (evt-cli/lunch)")

	requireContains(t, mustRun(t, env, "attendance", "seed"), "Seeded 2 absent rows for evt-cli/morning")

	out := mustRun(t, env, "attendance", "list", "--json", "--slot", "morning")
	var records []ledger.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 morning rows, got %d", len(records))
	}
	present := 0
	for _, rec := range records {
		if rec.Status == ledger.StatusPresent {
			present++
			if rec.ParticipantID != "S001" || rec.StationID != "cli-station" {
				t.Fatalf("unexpected present record: %#v", rec)
			}
		}
	}
	if present != 1 {
		t.Fatalf("expected one present morning row, got %d", present)
	}

	out = mustRun(t, env, "attendance", "summary", "--json")
	var summary ledger.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Present("morning") != 1 || summary.Present("lunch") != 1 {
		t.Fatalf("unexpected summary: %#v", summary)
	}
	requireContains(t, mustRun(t, env, "attendance", "summary"), "total")

	requireContains(t, mustRun(t, env, "attendance", "check", "S002"), "checked in yes (first: lunch")
	requireContains(t, mustRun(t, env, "attendance", "check", "S003", "--slot", "morning"), "checked in no")

	if _, err := runCLI(t, env, "attendance", "record", "S001", "--slot", "dinner"); err == nil {
		t.Fatal("expected unknown slot to fail")
	}
	if _, err := runCLI(t, env, "attendance", "record", "S001", "--event", "missing"); err == nil {
		t.Fatal("expected unknown event to fail")
	}
}

func TestEventDeleteRequiresConfirmation(t *testing.T) {
	env := setupCLIEnv(t)
	mustRun(t, env, "event", "create", "Orientation", "--id", "evt-cli", "--date", "2026-03-14")
	mustRun(t, env, "attendance", "record", "S001")

	if _, err := runCLI(t, env, "event", "delete", "evt-cli"); err == nil {
		t.Fatal("expected delete without --yes to fail")
	}
	requireContains(t, mustRun(t, env, "event", "delete", "evt-cli", "--yes"), "Deleted event evt-cli")
	requireContains(t, mustRun(t, env, "event", "list"), "No events")
	if _, err := runCLI(t, env, "event", "delete", "evt-cli", "--yes"); err == nil {
		t.Fatal("expected deleting a missing event to fail")
	}
}

func TestConfigCommands(t *testing.T) {
	env := setupCLIEnv(t)

	requireContains(t, mustRun(t, env, "config", "validate"), "Configuration valid")

	shown := mustRun(t, env, "config", "show")
	requireContains(t, shown, "xxxxx")
	if strings.Contains(shown, "s3cret") {
		t.Fatal("config show must not print the api token")
	}
	requireContains(t, shown, "cli-station")

	target := filepath.Join(t.TempDir(), "config.toml")
	requireContains(t, mustRun(t, env, "config", "init", "--path", target), "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestReadRoster(t *testing.T) {
	inputs, err := readRoster(strings.NewReader("S1, One\nS2,Two,c1,s1\n"))
	if err != nil {
		t.Fatalf("readRoster: %v", err)
	}
	if len(inputs) != 2 || inputs[0].DisplayName != "One" || inputs[1].Section != "s1" {
		t.Fatalf("unexpected inputs: %#v", inputs)
	}
	if _, err := readRoster(strings.NewReader("lonely\n")); err == nil {
		t.Fatal("expected error for a row without a name")
	}
}

func TestEnvFileFlag(t *testing.T) {
	env := setupCLIEnv(t)
	envFile := filepath.Join(t.TempDir(), "station.env")
	if err := os.WriteFile(envFile, []byte("QRATTEND_REDIS_ADDR=redis.example:6380\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("QRATTEND_REDIS_ADDR", "")
	os.Unsetenv("QRATTEND_REDIS_ADDR")

	requireContains(t, mustRun(t, env, "--env-file", envFile, "config", "show"), "redis.example:6380")
}
