package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestMissingEnvFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.env")
	cmd := newCommand()
	cmd.SetArgs([]string{"--env-file", path})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "load env file") {
		t.Fatalf("expected env file error, got %v", err)
	}
}
