package synckit

import "time"

// MetricsCollector provides hooks for collecting sync run metrics.
type MetricsCollector interface {
	// RecordRunDuration records how long a whole run took.
	RecordRunDuration(duration time.Duration)

	// RecordCollection records the outcome of one collection.
	RecordCollection(collection string, outcome CollectionOutcome, duration time.Duration)

	// RecordDecision records one conflict decision; resolved is false when the
	// conflict stayed unresolved.
	RecordDecision(collection string, decision Decision, resolved bool)

	// RecordSkip records a run request that did not start a run.
	RecordSkip(reason error)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordRunDuration(time.Duration)                           {}
func (n *NoOpMetricsCollector) RecordCollection(string, CollectionOutcome, time.Duration) {}
func (n *NoOpMetricsCollector) RecordDecision(string, Decision, bool)                     {}
func (n *NoOpMetricsCollector) RecordSkip(error)                                          {}
