package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"qrattend/internal/feed"
	"qrattend/internal/ledger"
)

const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiDim    = "\033[2m"
)

func shouldColorize(writer io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func paint(colorize bool, color, value string) string {
	if !colorize || value == "" {
		return value
	}
	return color + value + ansiReset
}

func statusLabel(status ledger.Status, colorize bool) string {
	switch status {
	case ledger.StatusPresent:
		return paint(colorize, ansiGreen, string(status))
	case ledger.StatusAbsent:
		return paint(colorize, ansiDim, string(status))
	default:
		return string(status)
	}
}

func outcomeLabel(outcome ledger.Outcome, colorize bool) string {
	switch outcome {
	case ledger.OutcomeRecorded:
		return paint(colorize, ansiGreen, "recorded")
	case ledger.OutcomeAlreadyPresent:
		return paint(colorize, ansiYellow, "already present")
	default:
		return outcome.String()
	}
}

func severityColor(severity feed.Severity) string {
	switch severity {
	case feed.SeverityError:
		return ansiRed
	case feed.SeverityWarning:
		return ansiYellow
	default:
		return ""
	}
}

func formatLocal(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
