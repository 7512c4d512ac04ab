// Package poller samples read-model version counters on a fixed interval and
// notifies registered observers when one moves.
package poller
