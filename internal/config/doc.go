// Package config loads, normalizes, and validates qrattend configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// QRATTEND_LEDGER_DSN. The Config type centralizes every knob the station,
// the poller, and the CLI need so the ledger location, capture device, and
// time-slot set are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, a closed time-slot set, and clear validation errors.
package config
