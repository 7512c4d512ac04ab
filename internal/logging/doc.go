// Package logging assembles structured slog loggers and formatting helpers used
// across qrattend components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so capture and poller code can
// tag log lines with station, session, event, and slot identifiers. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
