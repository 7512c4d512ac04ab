// Package api serves the station's read-only HTTP surface: health, metrics,
// events, attendance, summaries, the live feed and the latest preview frame.
//
// Every /api route requires "Authorization: Bearer <token>" when a token is
// configured. /healthz and /metrics stay open for probes and scrapers.
package api
