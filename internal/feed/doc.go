// Package feed carries station activity from worker goroutines to
// presentation. Workers publish into a bounded, sequence-numbered Hub;
// displays read it by long-polling or through sinks such as Redis pub/sub.
package feed
