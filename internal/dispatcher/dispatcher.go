// Package dispatcher delivers fired alert jobs to the notification webhook.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yejikwon7/multi-agent/internal/circuitbreaker"
	"github.com/yejikwon7/multi-agent/internal/domain"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

// MaxRetryDuration is the longest one event can occupy the dispatcher:
// every backoff wait plus a full send timeout per attempt.
func MaxRetryDuration() time.Duration {
	var total time.Duration
	for _, d := range defaultBackoff {
		total += d
	}
	return total + time.Duration(maxAttempts)*defaultSendTimeout
}

// DefaultDrainTimeout is the default time to wait for buffered events during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// ErrStatusTransitionDenied is returned when a status update would leave a
// terminal state (delivered/failed).
var ErrStatusTransitionDenied = errors.New("status transition denied: job already in terminal state")

var ErrNoEndpoint = errors.New("no notification endpoint configured")

// JobStore records delivery progress for locally scheduled jobs.
type JobStore interface {
	RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
	// UpdateJobStatus MUST reject transitions out of delivered/failed with
	// ErrStatusTransitionDenied so that replays are idempotent.
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status domain.JobStatus) error
}

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

// MetricsSink records dispatcher metrics. Methods must not block.
type MetricsSink interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// Config is the single notification endpoint every alert is posted to.
type Config struct {
	URL          string
	Secret       string
	Timeout      time.Duration
	DrainTimeout time.Duration
}

type WebhookRequest struct {
	URL            string
	Secret         string
	Timeout        time.Duration
	Body           []byte
	AttemptID      string
	JobName        string
	IdempotencyKey string
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r WebhookResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

type Dispatcher struct {
	config  Config
	store   JobStore
	sender  WebhookSender
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
	metrics MetricsSink                    // optional, nil = disabled
	backoff []time.Duration
}

func New(config Config, store JobStore, sender WebhookSender) *Dispatcher {
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	return &Dispatcher{
		config:  config,
		store:   store,
		sender:  sender,
		backoff: defaultBackoff,
	}
}

// WithCircuitBreaker short-circuits delivery while the endpoint is failing.
func (d *Dispatcher) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Run processes events until ctx is cancelled or ch is closed, then drains
// whatever is still buffered.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.FireEvent) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := d.Dispatch(ctx, event); err != nil {
				log.Printf("dispatcher: error: %v", err)
			}
		}
	}
}

// drain uses a fresh context since the run context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.FireEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.config.DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d events", count)
				return
			}
			if err := d.Dispatch(drainCtx, event); err != nil {
				log.Printf("dispatcher: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Dispatch posts the event's input document with retries and records the
// terminal status of the job.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.FireEvent) error {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	if d.config.URL == "" {
		log.Printf("dispatcher: job=%s has no notification endpoint", event.Name)
		if err := d.finish(ctx, event, domain.JobStatusFailed, "no_endpoint"); err != nil {
			return err
		}
		return fmt.Errorf("job %s: %w", event.Name, ErrNoEndpoint)
	}

	req := WebhookRequest{
		URL:            d.config.URL,
		Secret:         d.config.Secret,
		Timeout:        d.config.Timeout,
		Body:           []byte(event.Input),
		JobName:        event.Name,
		IdempotencyKey: event.IdempotencyKey,
	}

	var lastResult WebhookResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if d.metrics != nil {
				d.metrics.RetryAttempt(lastResult.IsRetryable())
			}
			if err := d.wait(ctx, event, attempt); err != nil {
				return err
			}
		}

		if d.breaker != nil {
			if err := d.breaker.Allow(req.URL); err != nil {
				log.Printf("dispatcher: job=%s attempt=%d circuit open", event.Name, attempt)
				return d.finish(ctx, event, domain.JobStatusFailed, "circuit_open")
			}
		}

		attemptID := uuid.New()
		req.AttemptID = attemptID.String()

		startedAt := time.Now().UTC()
		result := d.sender.Send(ctx, req)
		finishedAt := time.Now().UTC()
		lastResult = result

		if d.metrics != nil {
			d.metrics.DeliveryAttemptCompleted(attempt, classifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		record := domain.DeliveryAttempt{
			ID:         attemptID,
			JobID:      event.JobID,
			Attempt:    attempt,
			StatusCode: result.StatusCode,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if result.Error != nil {
			record.Error = result.Error.Error()
		}
		if err := d.store.RecordAttempt(ctx, record); err != nil {
			log.Printf("dispatcher: failed to record attempt: %v", err)
		}

		if result.IsSuccess() {
			d.recordBreaker(req.URL, true)
			log.Printf("dispatcher: job=%s delivered attempt=%d", event.Name, attempt)
			return d.finish(ctx, event, domain.JobStatusDelivered, "success")
		}
		d.recordBreaker(req.URL, false)

		if !result.IsRetryable() {
			log.Printf("dispatcher: job=%s non-retryable status=%d", event.Name, result.StatusCode)
			break
		}

		log.Printf("dispatcher: job=%s attempt=%d failed status=%d err=%v", event.Name, attempt, result.StatusCode, result.Error)
	}

	log.Printf("dispatcher: job=%s failed status=%d err=%v", event.Name, lastResult.StatusCode, lastResult.Error)
	return d.finish(ctx, event, domain.JobStatusFailed, "failed")
}

func (d *Dispatcher) wait(ctx context.Context, event domain.FireEvent, attempt int) error {
	idx := attempt - 1
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	backoff := d.backoff[idx]

	log.Printf("dispatcher: job=%s attempt=%d backoff=%s", event.Name, attempt, backoff)

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) recordBreaker(url string, ok bool) {
	if d.breaker == nil {
		return
	}
	if ok {
		d.breaker.RecordSuccess(url)
	} else {
		d.breaker.RecordFailure(url)
	}
}

// finish records the outcome metric and the terminal job status. A denied
// transition means the job was already settled and is not an error.
func (d *Dispatcher) finish(ctx context.Context, event domain.FireEvent, status domain.JobStatus, outcome string) error {
	if d.metrics != nil {
		d.metrics.DeliveryOutcome(outcome)
	}
	if err := d.store.UpdateJobStatus(ctx, event.JobID, status); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			log.Printf("dispatcher: job=%s already terminal, skipping status update", event.Name)
			return nil
		}
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// classifyStatus maps a result to a bounded metrics label:
// 2xx, 4xx, 5xx, timeout, connection_error, other_error.
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case errors.Is(err, context.DeadlineExceeded),
			strings.Contains(msg, "timeout"),
			strings.Contains(msg, "deadline exceeded"):
			return "timeout"
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"),
			strings.Contains(msg, "dial"):
			return "connection_error"
		default:
			return "other_error"
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}
