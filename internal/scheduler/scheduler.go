// Package scheduler is the in-process scheduling backend. It accepts the
// same one-shot registrations as the remote scheduler, holds them in a
// store and emits a FireEvent when each becomes due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/yejikwon7/multi-agent/internal/domain"
	"github.com/yejikwon7/multi-agent/internal/registrar"
)

const DefaultTickInterval = time.Second

type Store interface {
	InsertJob(ctx context.Context, job domain.LocalJob) error
	PendingJobs(ctx context.Context) ([]domain.LocalJob, error)
	MarkFired(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Pruner is implemented by stores that can drop finished jobs.
type Pruner interface {
	PruneTerminal(ctx context.Context, olderThan time.Time) int
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// MetricsSink records scheduler metrics. Methods must not block.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, jobsTriggered int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	TickInterval time.Duration
	// Retention: 0 keeps finished jobs forever. Only applies when the store is a Pruner.
	Retention time.Duration
}

type Scheduler struct {
	config  Config
	store   Store
	parser  CronParser
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, parser CronParser, emitter EventEmitter) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	return &Scheduler{
		config:  config,
		store:   store,
		parser:  parser,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// CreateSchedule stores reg as a pending local job. It implements
// registrar.Client so the registrar can target this backend directly.
func (s *Scheduler) CreateSchedule(ctx context.Context, reg registrar.Registration) (string, error) {
	sched, err := s.parser.Parse(reg.RunAtExpression, "UTC")
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", reg.RunAtExpression, err)
	}

	now := s.clock().UTC()
	runAt := sched.Next(now)
	if runAt.IsZero() {
		return "", fmt.Errorf("expression %s never fires after %s", reg.RunAtExpression, now.Format(time.RFC3339))
	}

	job := domain.LocalJob{
		ID:         uuid.New(),
		Name:       reg.Name,
		Group:      reg.Group,
		Tag:        reg.Tag,
		Expression: reg.RunAtExpression,
		RunAt:      runAt.UTC(),
		Input:      reg.Input,
		Status:     domain.JobStatusPending,
		CreatedAt:  now,
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}

	log.Printf("scheduler: accepted job=%s run_at=%s", job.Name, job.RunAt.Format(time.RFC3339))
	return "local:" + job.Group + "/" + job.Name, nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)
	expected := s.clock().Add(s.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if s.metrics != nil {
				s.metrics.TickDrift(s.clock().Sub(expected))
			}
			expected = expected.Add(s.config.TickInterval)
			if err := s.Tick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

// Tick emits every pending job whose run time has been reached.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	fired, err := s.processTick(ctx)

	if s.metrics != nil {
		s.metrics.TickCompleted(time.Since(start), fired, err)
	}
	return err
}

func (s *Scheduler) processTick(ctx context.Context) (int, error) {
	now := s.clock().UTC()

	jobs, err := s.store.PendingJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("get pending jobs: %w", err)
	}

	fired := 0
	for _, job := range jobs {
		ok, err := s.processJob(ctx, job, now)
		if err != nil {
			log.Printf("scheduler: job %s error: %v", job.Name, err)
			continue
		}
		if ok {
			fired++
		}
	}

	s.prune(ctx, now)
	return fired, nil
}

func (s *Scheduler) prune(ctx context.Context, now time.Time) {
	if s.config.Retention <= 0 {
		return
	}
	p, ok := s.store.(Pruner)
	if !ok {
		return
	}
	if n := p.PruneTerminal(ctx, now.Add(-s.config.Retention)); n > 0 {
		log.Printf("scheduler: pruned %d finished jobs older than %s", n, s.config.Retention)
	}
}

func (s *Scheduler) processJob(ctx context.Context, job domain.LocalJob, now time.Time) (bool, error) {
	sched, err := s.parser.Parse(job.Expression, "UTC")
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}

	// One-shot schedules return the zero time once their instant has passed
	// relative to creation, so the due check is anchored there.
	due := sched.Next(job.CreatedAt)
	if due.IsZero() || due.After(now) {
		return false, nil
	}

	if err := s.store.MarkFired(ctx, job.ID, now); err != nil {
		if errors.Is(err, ErrAlreadyFired) {
			return false, nil
		}
		return false, fmt.Errorf("mark fired: %w", err)
	}

	event := job.FireEvent(due, now)
	if err := s.emitter.Emit(ctx, event); err != nil {
		return false, fmt.Errorf("emit: %w", err)
	}

	log.Printf("scheduler: fired job=%s scheduled_at=%s", job.Name, due.UTC().Format(time.RFC3339))
	return true, nil
}

var _ registrar.Client = (*Scheduler)(nil)
