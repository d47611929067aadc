package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) StageCompleted(stage string, d time.Duration, err error)                   {}
func (n *NoopSink) ExtractionResult(stage string, found bool)                                 {}
func (n *NoopSink) RunCompleted(finalState string, d time.Duration)                           {}
func (n *NoopSink) RegistrationCompleted(tag string, status string, d time.Duration)          {}
func (n *NoopSink) HistoryAppend(backend string, err error)                                   {}
func (n *NoopSink) TickStarted()                                                              {}
func (n *NoopSink) TickCompleted(d time.Duration, jobsTriggered int, err error)               {}
func (n *NoopSink) TickDrift(drift time.Duration)                                             {}
func (n *NoopSink) OrphansReemitted(count int)                                               {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) EventsInFlightIncr()                                                       {}
func (n *NoopSink) EventsInFlightDecr()                                                       {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                            {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                                 {}
func (n *NoopSink) EmitError()                                                                {}

var _ Sink = (*NoopSink)(nil)
