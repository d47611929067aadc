package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "concierge"

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Pipeline
	stageDuration    *prometheus.HistogramVec
	stageErrorsTotal *prometheus.CounterVec
	extractionsTotal *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram

	// Registrar
	registrationsTotal   *prometheus.CounterVec
	registrationDuration prometheus.Histogram

	// History
	historyAppendsTotal *prometheus.CounterVec

	// Local scheduler
	ticksTotal         prometheus.Counter
	tickErrorsTotal    prometheus.Counter
	jobsTriggeredTotal prometheus.Counter
	tickDuration       prometheus.Histogram
	tickDrift          prometheus.Histogram
	orphansReemitted   prometheus.Counter

	// Dispatcher
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec
	eventsInFlight        prometheus.Gauge

	// EventBus
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter
}

// NewPrometheusSink creates and registers all collectors. A collector that
// fails to register still works; it is just not exported.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPipelineMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each generation stage in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})
	s.stageErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_errors_total",
		Help:      "Total number of generation stage failures.",
	}, []string{"stage"})
	s.extractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "extractions_total",
		Help:      "Structured record extraction attempts by stage and result.",
	}, []string{"stage", "result"})
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total number of pipeline runs by final state.",
	}, []string{"state"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "End-to-end pipeline run duration in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
	s.registrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registrar",
		Name:      "registrations_total",
		Help:      "Total number of alert registrations by tag and status.",
	}, []string{"tag", "status"})
	s.registrationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "registrar",
		Name:      "registration_duration_seconds",
		Help:      "Duration of a registration including the scheduler call.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	s.historyAppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "appends_total",
		Help:      "Total number of trip history appends by backend and result.",
	}, []string{"backend", "result"})

	s.register(reg, s.stageDuration, "pipeline_stage_duration_seconds")
	s.register(reg, s.stageErrorsTotal, "pipeline_stage_errors_total")
	s.register(reg, s.extractionsTotal, "pipeline_extractions_total")
	s.register(reg, s.runsTotal, "pipeline_runs_total")
	s.register(reg, s.runDuration, "pipeline_run_duration_seconds")
	s.register(reg, s.registrationsTotal, "registrar_registrations_total")
	s.register(reg, s.registrationDuration, "registrar_registration_duration_seconds")
	s.register(reg, s.historyAppendsTotal, "history_appends_total")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Total number of local scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tick_errors_total",
		Help:      "Total number of local scheduler tick errors.",
	})
	s.jobsTriggeredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "jobs_triggered_total",
		Help:      "Total number of alert jobs fired.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Duration of each scheduler tick in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tick_drift_seconds",
		Help:      "Absolute difference between actual and expected tick time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	s.orphansReemitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "orphans_reemitted_total",
		Help:      "Total number of fired jobs re-emitted after never reaching the dispatcher.",
	})

	s.register(reg, s.ticksTotal, "scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "scheduler_tick_errors_total")
	s.register(reg, s.jobsTriggeredTotal, "scheduler_jobs_triggered_total")
	s.register(reg, s.tickDuration, "scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "scheduler_tick_drift_seconds")
	s.register(reg, s.orphansReemitted, "reconciler_orphans_reemitted_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "delivery_attempts_total",
		Help:      "Total number of notification delivery attempts.",
	}, []string{"attempt", "status_class"})
	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "delivery_outcomes_total",
		Help:      "Final delivery outcome per fired job.",
	}, []string{"outcome"})
	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "webhook_duration_seconds",
		Help:      "Notification request latency in seconds (excludes backoff wait).",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "retry_attempts_total",
		Help:      "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "events_in_flight",
		Help:      "Number of fired jobs currently being delivered.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "dispatcher_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "dispatcher_delivery_outcomes_total")
	s.register(reg, s.webhookDuration, "dispatcher_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "dispatcher_retry_attempts_total")
	s.register(reg, s.eventsInFlight, "dispatcher_events_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "buffer_size",
		Help:      "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "buffer_capacity",
		Help:      "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "buffer_saturation",
		Help:      "Fraction of the event bus buffer in use.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "emit_errors_total",
		Help:      "Total number of emit errors (buffer full or cancelled).",
	})

	s.register(reg, s.bufferSize, "eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "eventbus_emit_errors_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s_%s: %v", namespace, name, err)
	}
}

// Pipeline

func (s *PrometheusSink) StageCompleted(stage string, duration time.Duration, err error) {
	s.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		s.stageErrorsTotal.WithLabelValues(stage).Inc()
	}
}

func (s *PrometheusSink) ExtractionResult(stage string, found bool) {
	result := "missing"
	if found {
		result = "found"
	}
	s.extractionsTotal.WithLabelValues(stage, result).Inc()
}

func (s *PrometheusSink) RunCompleted(finalState string, duration time.Duration) {
	s.runsTotal.WithLabelValues(finalState).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RegistrationCompleted(tag string, status string, duration time.Duration) {
	s.registrationsTotal.WithLabelValues(tag, status).Inc()
	s.registrationDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) HistoryAppend(backend string, err error) {
	s.historyAppendsTotal.WithLabelValues(backend, errorLabel(err)).Inc()
}

// Local scheduler

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, jobsTriggered int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.jobsTriggeredTotal.Add(float64(jobsTriggered))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) OrphansReemitted(n int) {
	s.orphansReemitted.Add(float64(n))
}

// Dispatcher

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// EventBus

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

var _ Sink = (*PrometheusSink)(nil)
