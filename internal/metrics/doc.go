// Package metrics exposes Prometheus collectors for capture, ledger writes,
// the change poller and the feed.
package metrics
