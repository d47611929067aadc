// Package pipeline runs the stage generators in order and turns their output
// into scheduled departure alerts and a trip history entry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/yejikwon7/multi-agent/internal/alertbody"
	"github.com/yejikwon7/multi-agent/internal/domain"
	"github.com/yejikwon7/multi-agent/internal/extract"
	"github.com/yejikwon7/multi-agent/internal/history"
	"github.com/yejikwon7/multi-agent/internal/registrar"
)

const (
	DefaultStageTimeout   = 2 * time.Minute
	DefaultHistoryTimeout = 5 * time.Second
)

// Reasons scheduling was skipped for a whole run.
const (
	SkipNoFlight    = "no flight"
	SkipNoRecipient = "no recipient"
)

var ErrSchedulingPanic = errors.New("scheduling panicked")

// Generator produces the raw text of one stage. prior holds every earlier
// stage's output in pipeline order.
type Generator interface {
	Generate(ctx context.Context, stage domain.Stage, prior []domain.RawStageOutput) (string, error)
}

// Session is implemented by generators that hold resources for a run.
// The returned closer is released when the run ends.
type Session interface {
	Begin(ctx context.Context) (io.Closer, error)
}

// TriggerCalculator turns a departure value into the two alert instants.
type TriggerCalculator interface {
	Compute(departure any) (domain.TriggerPair, error)
}

// AlertRegistrar registers schedule requests, one outcome per request.
type AlertRegistrar interface {
	RegisterAll(ctx context.Context, reqs []domain.ScheduleRequest) []domain.RegistrationOutcome
}

// MetricsSink records pipeline events. Methods must not block.
type MetricsSink interface {
	StageCompleted(stage string, duration time.Duration, err error)
	ExtractionResult(stage string, found bool)
	RunCompleted(finalState string, duration time.Duration)
	HistoryAppend(backend string, err error)
}

type Config struct {
	Recipient      string // falls back to the profile's email field
	StageTimeout   time.Duration
	HistoryTimeout time.Duration
	HistoryBackend string // metrics label
}

type Orchestrator struct {
	config    Config
	generator Generator
	triggers  TriggerCalculator
	registrar AlertRegistrar
	history   history.Store // nil = history disabled
	splitter  alertbody.Splitter
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
}

func New(config Config, gen Generator, triggers TriggerCalculator, reg AlertRegistrar, store history.Store) *Orchestrator {
	if config.StageTimeout <= 0 {
		config.StageTimeout = DefaultStageTimeout
	}
	if config.HistoryTimeout <= 0 {
		config.HistoryTimeout = DefaultHistoryTimeout
	}
	if config.HistoryBackend == "" {
		config.HistoryBackend = "file"
	}
	return &Orchestrator{
		config:    config,
		generator: gen,
		triggers:  triggers,
		registrar: reg,
		history:   store,
		splitter:  alertbody.DefaultSplitter,
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the orchestrator.
func (o *Orchestrator) WithMetrics(sink MetricsSink) *Orchestrator {
	o.metrics = sink
	return o
}

// WithClock overrides the clock used for request construction and history timestamps.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// WithGenerator returns a copy of the orchestrator that reads stages from gen.
func (o *Orchestrator) WithGenerator(gen Generator) *Orchestrator {
	cp := *o
	cp.generator = gen
	return &cp
}

// WithSplitter overrides the notification section markers.
func (o *Orchestrator) WithSplitter(s alertbody.Splitter) *Orchestrator {
	o.splitter = s
	return o
}

// Run executes one pipeline run. It always reaches StateDone; problems are
// reported on the Result instead of aborting the run.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	start := time.Now()
	res := newResult(o.clock())

	var sc scope
	defer sc.release()
	if s, ok := o.generator.(Session); ok {
		closer, err := s.Begin(ctx)
		if err != nil {
			log.Printf("pipeline: generator session failed: %v", err)
		} else {
			sc.add(closer)
		}
	}

	for _, step := range generationSteps {
		res.enter(step.state)
		o.generate(ctx, step.stage, res)
	}

	res.enter(StateSchedulingAlerts)
	o.scheduleAlerts(ctx, res)

	res.enter(StatePersistingHistory)
	o.persistHistory(ctx, res)

	res.enter(StateDone)
	res.FinishedAt = o.clock()

	if o.metrics != nil {
		o.metrics.RunCompleted(string(StateDone), time.Since(start))
	}
	log.Printf("pipeline: run complete registered=%d skipped=%d failed=%d history_err=%v",
		res.Count(domain.RegistrationRegistered),
		res.Count(domain.RegistrationSkipped),
		res.Count(domain.RegistrationFailed),
		res.HistoryErr)
	return res
}

func (o *Orchestrator) generate(ctx context.Context, stage domain.Stage, res *Result) {
	start := time.Now()

	stageCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	text, err := o.generator.Generate(stageCtx, stage, res.priorOutputs())
	cancel()
	if err != nil {
		log.Printf("pipeline: stage %s failed, continuing with empty output: %v", stage, err)
		res.StageErrors[stage] = err
		text = ""
	}
	res.Outputs = append(res.Outputs, domain.RawStageOutput{Stage: stage, Text: text})

	rec, found := extract.Text(text)
	if found {
		res.Records[stage] = rec
	}

	if o.metrics != nil {
		o.metrics.StageCompleted(string(stage), time.Since(start), err)
		o.metrics.ExtractionResult(string(stage), found)
	}
}

// scheduleAlerts never lets a failure escape; the run proceeds to history.
func (o *Orchestrator) scheduleAlerts(ctx context.Context, res *Result) {
	defer func() {
		if p := recover(); p != nil {
			res.SchedulingErr = fmt.Errorf("%w: %v", ErrSchedulingPanic, p)
			log.Printf("pipeline: scheduling failed: %v", res.SchedulingErr)
		}
	}()

	flight, ok := extract.Flight(res.Records[domain.StageFlight])
	if !ok {
		res.SchedulingSkip = SkipNoFlight
		log.Printf("pipeline: no flight selected, scheduling skipped")
		return
	}
	res.Flight = &flight

	pair, err := o.triggers.Compute(flight.DepartureTimeLocal)
	if err != nil {
		res.SchedulingErr = fmt.Errorf("compute triggers: %w", err)
		log.Printf("pipeline: departure %q unusable, scheduling skipped: %v", flight.DepartureTimeLocal, err)
		return
	}
	res.Triggers = &pair

	recipient := o.recipient(res)
	if recipient == "" {
		res.SchedulingSkip = SkipNoRecipient
		log.Printf("pipeline: no recipient configured, scheduling skipped")
		return
	}

	fiveHour, twoHour := o.bodies(res)
	now := o.clock().UTC()

	var reqs []domain.ScheduleRequest
	for _, t := range pair.Triggers() {
		if t.AlreadyElapsed || !t.RunAt.After(now) {
			log.Printf("pipeline: trigger %s at %s already elapsed, not registering", t.Tag, t.RunAt.Format(time.RFC3339))
			res.Outcomes = append(res.Outcomes, domain.RegistrationOutcome{
				Tag:    t.Tag,
				Status: domain.RegistrationSkipped,
				Reason: registrar.ReasonElapsed,
				RunAt:  t.RunAt,
			})
			continue
		}

		body := fiveHour
		if t.Tag == domain.TagTwoHoursBefore {
			body = twoHour
		}
		reqs = append(reqs, domain.ScheduleRequest{
			RunTimeUTC: t.RunAt,
			Tag:        t.Tag,
			Recipient:  recipient,
			Subject:    Subject(flight, t.Tag),
			Body:       body,
			Payload:    flightPayload(flight, t.Tag),
		})
	}
	res.Requests = reqs
	if len(reqs) == 0 {
		return
	}

	for _, outcome := range o.registrar.RegisterAll(ctx, reqs) {
		if outcome.Status == domain.RegistrationFailed {
			log.Printf("pipeline: registration failed tag=%s error=%v", outcome.Tag, outcome.Err)
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}
}

func (o *Orchestrator) recipient(res *Result) string {
	if o.config.Recipient != "" {
		return o.config.Recipient
	}
	return firstString(res.Records[domain.StageProfile], "email", "to_email")
}

// bodies prefers the structured two-field notification record and falls
// back to marker splitting of the raw text.
func (o *Orchestrator) bodies(res *Result) (fiveHour, twoHour string) {
	raw := res.Output(domain.StageNotification)
	b, ok := alertbody.FromRecord(res.Records[domain.StageNotification])
	if !ok {
		b = o.splitter.Split(raw)
	}
	if b.Degraded() {
		log.Printf("pipeline: notification markers not found, using whole text for both alerts")
	}
	return b.Resolve(raw)
}

func (o *Orchestrator) persistHistory(ctx context.Context, res *Result) {
	if o.history == nil {
		return
	}

	entry := HistoryEntry(o.clock(), res.Records[domain.StageProfile], res.Output)
	res.History = &entry

	hctx, cancel := context.WithTimeout(ctx, o.config.HistoryTimeout)
	defer cancel()

	err := o.history.Append(hctx, entry)
	if err != nil {
		res.HistoryErr = err
		log.Printf("pipeline: history append failed: %v", err)
	}
	if o.metrics != nil {
		o.metrics.HistoryAppend(o.config.HistoryBackend, err)
	}
}

// Subject is the email subject of the alert for tag.
func Subject(flight domain.FlightOption, tag domain.Tag) string {
	lead := "5시간"
	if tag == domain.TagTwoHoursBefore {
		lead = "2시간"
	}
	if flight.FlightNumber == "" {
		return fmt.Sprintf("[출국 알림] 출발 %s 전 안내", lead)
	}
	return fmt.Sprintf("[출국 알림] %s 출발 %s 전 안내", flight.FlightNumber, lead)
}

func flightPayload(flight domain.FlightOption, tag domain.Tag) map[string]any {
	return map[string]any{
		"flight_number":        flight.FlightNumber,
		"airline":              flight.Airline,
		"departure_time_local": flight.DepartureTimeLocal,
		"tag":                  string(tag),
	}
}

// scope releases run-scoped resources in reverse acquisition order.
type scope struct {
	closers []io.Closer
}

func (s *scope) add(c io.Closer) {
	if c != nil {
		s.closers = append(s.closers, c)
	}
}

func (s *scope) release() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Printf("pipeline: release resource: %v", err)
		}
	}
	s.closers = nil
}
