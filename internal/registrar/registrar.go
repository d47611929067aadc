// Package registrar registers one-shot alert jobs with an external scheduler.
//
// Registration never aborts the caller: missing configuration is reported as
// a skip, client errors, timeouts and panics as a failure.
package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yejikwon7/multi-agent/internal/cron"
	"github.com/yejikwon7/multi-agent/internal/domain"
)

// Skip reasons reported in RegistrationOutcome.Reason.
const (
	ReasonDisabled = "disabled"
	ReasonNoClient = "no client"
	ReasonNoTarget = "no target"
	ReasonNoRole   = "no role"
	ReasonElapsed  = "elapsed"
)

const (
	DefaultNamePrefix  = "flight-email-reminder"
	DefaultGroup       = "default"
	DefaultCallTimeout = 10 * time.Second

	StateEnabled = "ENABLED"
)

var ErrClientPanic = errors.New("scheduler client panicked")

// Registration is the scheduler-facing form of a ScheduleRequest.
type Registration struct {
	Name            string
	Group           string
	Tag             domain.Tag
	RunAtExpression string
	TargetIdentity  string
	RoleIdentity    string
	Input           string
	Description     string
	State           string
}

// Client creates a schedule and returns the scheduler's identifier for it.
type Client interface {
	CreateSchedule(ctx context.Context, reg Registration) (string, error)
}

// MetricsSink records registration outcomes. Methods must not block.
type MetricsSink interface {
	RegistrationCompleted(tag string, status string, duration time.Duration)
}

// AnalyticsSink receives every outcome as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, outcome domain.RegistrationOutcome)
}

type Config struct {
	Enabled     bool
	TargetARN   string
	RoleARN     string
	Group       string
	NamePrefix  string
	CallTimeout time.Duration
}

type Registrar struct {
	config    Config
	client    Client        // nil = not available
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	clock     func() time.Time
	suffix    func() string
}

func New(config Config, client Client) *Registrar {
	if config.Group == "" {
		config.Group = DefaultGroup
	}
	if config.NamePrefix == "" {
		config.NamePrefix = DefaultNamePrefix
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	return &Registrar{
		config: config,
		client: client,
		clock:  time.Now,
		suffix: randomSuffix,
	}
}

// WithMetrics attaches a metrics sink to the registrar.
func (r *Registrar) WithMetrics(sink MetricsSink) *Registrar {
	r.metrics = sink
	return r
}

// WithAnalytics attaches an analytics sink to the registrar.
func (r *Registrar) WithAnalytics(sink AnalyticsSink) *Registrar {
	r.analytics = sink
	return r
}

// WithClock overrides the clock used for the elapsed guard.
func (r *Registrar) WithClock(clock func() time.Time) *Registrar {
	r.clock = clock
	return r
}

// RegisterAll registers every request independently and concurrently.
// Outcomes are returned in request order.
func (r *Registrar) RegisterAll(ctx context.Context, reqs []domain.ScheduleRequest) []domain.RegistrationOutcome {
	outcomes := make([]domain.RegistrationOutcome, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req domain.ScheduleRequest) {
			defer wg.Done()
			outcomes[i] = r.Register(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return outcomes
}

// Register submits one request. It never returns an error; the outcome says
// whether the job was registered, skipped or failed.
func (r *Registrar) Register(ctx context.Context, req domain.ScheduleRequest) domain.RegistrationOutcome {
	start := time.Now()
	outcome := r.register(ctx, req)
	r.report(ctx, outcome, time.Since(start))
	return outcome
}

func (r *Registrar) register(ctx context.Context, req domain.ScheduleRequest) domain.RegistrationOutcome {
	runAt := req.RunTimeUTC.UTC()
	outcome := domain.RegistrationOutcome{Tag: req.Tag, RunAt: runAt}

	if reason := r.precondition(); reason != "" {
		return skip(outcome, reason)
	}
	if !runAt.After(r.clock().UTC()) {
		return skip(outcome, ReasonElapsed)
	}

	input, err := EncodeInput(req)
	if err != nil {
		return fail(outcome, fmt.Errorf("encode input: %w", err))
	}

	expr := cron.FormatAt(runAt)
	reg := Registration{
		Name:            r.scheduleName(req.Tag),
		Group:           r.config.Group,
		Tag:             req.Tag,
		RunAtExpression: expr,
		TargetIdentity:  r.config.TargetARN,
		RoleIdentity:    r.config.RoleARN,
		Input:           input,
		Description:     fmt.Sprintf("Email flight reminder (%s) at %s", req.Tag, expr),
		State:           StateEnabled,
	}
	outcome.ScheduleName = reg.Name

	if _, err := r.call(ctx, reg); err != nil {
		return fail(outcome, err)
	}

	outcome.Status = domain.RegistrationRegistered
	return outcome
}

// precondition returns the first missing prerequisite, or "".
func (r *Registrar) precondition() string {
	switch {
	case !r.config.Enabled:
		return ReasonDisabled
	case r.client == nil:
		return ReasonNoClient
	case r.config.TargetARN == "":
		return ReasonNoTarget
	case r.config.RoleARN == "":
		return ReasonNoRole
	default:
		return ""
	}
}

type callResult struct {
	id  string
	err error
}

// call bounds the client call by CallTimeout even if the client ignores ctx.
func (r *Registrar) call(ctx context.Context, reg Registration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("%w: %v", ErrClientPanic, p)}
			}
		}()
		id, err := r.client.CreateSchedule(callCtx, reg)
		done <- callResult{id: id, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("create schedule: %w", res.err)
		}
		return res.id, nil
	case <-callCtx.Done():
		return "", fmt.Errorf("create schedule: %w", callCtx.Err())
	}
}

func (r *Registrar) report(ctx context.Context, outcome domain.RegistrationOutcome, d time.Duration) {
	switch outcome.Status {
	case domain.RegistrationRegistered:
		log.Printf("registrar: registered %s tag=%s run_at=%s", outcome.ScheduleName, outcome.Tag, outcome.RunAt.Format(time.RFC3339))
	case domain.RegistrationSkipped:
		log.Printf("registrar: skipped tag=%s reason=%s", outcome.Tag, outcome.Reason)
	case domain.RegistrationFailed:
		log.Printf("registrar: failed tag=%s name=%s error=%v", outcome.Tag, outcome.ScheduleName, outcome.Err)
	}

	if r.metrics != nil {
		r.metrics.RegistrationCompleted(string(outcome.Tag), string(outcome.Status), d)
	}
	if r.analytics != nil {
		r.analytics.Record(ctx, outcome)
	}
}

func (r *Registrar) scheduleName(tag domain.Tag) string {
	return fmt.Sprintf("%s-%s-%s", r.config.NamePrefix, tag, r.suffix())
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func skip(o domain.RegistrationOutcome, reason string) domain.RegistrationOutcome {
	o.Status = domain.RegistrationSkipped
	o.Reason = reason
	return o
}

func fail(o domain.RegistrationOutcome, err error) domain.RegistrationOutcome {
	o.Status = domain.RegistrationFailed
	o.Err = err
	return o
}

// EncodeInput renders the notification dispatcher input as JSON text.
// Payload keys never override to_email, subject or body.
func EncodeInput(req domain.ScheduleRequest) (string, error) {
	doc := make(map[string]any, len(req.Payload)+3)
	for k, v := range req.Payload {
		doc[k] = v
	}
	doc["to_email"] = req.Recipient
	doc["subject"] = req.Subject
	doc["body"] = req.Body

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
