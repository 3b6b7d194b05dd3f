package core

import "time"

// MetricsCollector receives operational metrics from the engine.
// Implement it to integrate with a monitoring system; see pkg/metrics for a
// Prometheus implementation.
type MetricsCollector interface {
	// RecordMutation is called after every protocol request that reached the
	// store, err is nil on success.
	RecordMutation(collection string, event EventType, duration time.Duration, err error)

	// RecordPublish is called for every event handed to the bus with the
	// number of subscribers it reached.
	RecordPublish(collection string, event EventType, delivered int)

	// RecordDrop is called when a slow subscriber is disconnected.
	RecordDrop(collection string)

	// RecordVector is called after each vector operation (upsert, query,
	// delete, embed) with the number of items involved.
	RecordVector(op string, namespace string, items int, duration time.Duration, err error)
}

// NoopMetricsCollector discards everything.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMutation(string, EventType, time.Duration, error) {}
func (NoopMetricsCollector) RecordPublish(string, EventType, int)                   {}
func (NoopMetricsCollector) RecordDrop(string)                                      {}
func (NoopMetricsCollector) RecordVector(string, string, int, time.Duration, error) {}

var _ MetricsCollector = NoopMetricsCollector{}
