package metrics

import "time"

// Sink is the union of the metrics hooks exposed by each component.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors.
type Sink interface {
	// Pipeline
	StageCompleted(stage string, duration time.Duration, err error)
	ExtractionResult(stage string, found bool)
	RunCompleted(finalState string, duration time.Duration)

	// Registrar
	RegistrationCompleted(tag string, status string, duration time.Duration)

	// History
	HistoryAppend(backend string, err error)

	// Local scheduler
	TickStarted()
	TickCompleted(duration time.Duration, jobsTriggered int, err error)
	TickDrift(drift time.Duration)

	// Reconciler
	OrphansReemitted(n int)

	// Dispatcher
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// EventBus
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

// Outcome values reported through DeliveryOutcome.
const (
	OutcomeSuccess     = "success"
	OutcomeFailed      = "failed"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeNoEndpoint  = "no_endpoint"
)

// errorLabel collapses an error into a bounded label value.
func errorLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
