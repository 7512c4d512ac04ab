// Package station coordinates one scanning station.
//
// It owns the per-device flock lock, the capture session for the configured
// event and slot, the ledger change poller, the video4linux hotplug monitor
// and the feed that presentation layers read. Session and poller callbacks
// are queued onto a single dispatcher goroutine before they reach the feed,
// so slow consumers never stall the capture loop.
//
// Keep orchestration here: decoding, debouncing and persistence live in the
// capture and ledger packages.
package station
