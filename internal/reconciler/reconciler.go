// Package reconciler re-emits locally scheduled alerts that fired but never
// reached the dispatcher.
//
// A job is orphaned when the scheduler marked it fired but the emit failed
// (buffer full, shutdown) so no delivery attempt was ever recorded. The
// dispatcher's terminal state guard makes a duplicate re-emit harmless.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/yejikwon7/multi-agent/internal/dispatcher"
	"github.com/yejikwon7/multi-agent/internal/domain"
)

// SafetyMargin is added to the dispatcher's worst-case retry window when
// deriving the default threshold.
const SafetyMargin = 5 * time.Minute

// Store fetches fired jobs with no delivery attempt.
type Store interface {
	OrphanedJobs(ctx context.Context, olderThan time.Time, max int) ([]domain.LocalJob, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// MetricsSink records reconciler metrics. Methods must not block.
type MetricsSink interface {
	OrphansReemitted(n int)
}

type Config struct {
	// Interval is how often the reconciler runs.
	Interval time.Duration

	// Threshold is how long a fired job may go without a delivery attempt.
	// It must exceed dispatcher.MaxRetryDuration so a job queued behind a
	// retrying one is not emitted twice.
	Threshold time.Duration

	// BatchSize is the maximum number of orphans to process per cycle.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: dispatcher.MaxRetryDuration() + SafetyMargin,
		BatchSize: 100,
	}
}

type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a Reconciler. Zero config fields take DefaultConfig values.
func New(config Config, store Store, emitter EventEmitter) *Reconciler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// WithClock overrides the clock used to compute the orphan cutoff.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle and returns the number of
// re-emitted jobs.
func (r *Reconciler) runCycle(ctx context.Context) int {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.Threshold)

	orphans, err := r.store.OrphanedJobs(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		log.Printf("reconciler: failed to fetch orphans: %v", err)
		return 0
	}
	if len(orphans) == 0 {
		return 0
	}

	log.Printf("reconciler: found %d orphaned jobs", len(orphans))

	emitted := 0
	failed := 0

	for _, job := range orphans {
		// Check context before each emit to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d orphans", emitted+failed, len(orphans))
			break
		}

		event := job.FireEvent(job.RunAt, now)
		if err := r.emitter.Emit(ctx, event); err != nil {
			log.Printf("reconciler: failed to re-emit job=%s: %v", job.Name, err)
			failed++
			continue
		}

		log.Printf("reconciler: re-emitted job=%s run_at=%s (fired %s ago)",
			job.Name, job.RunAt.Format(time.RFC3339), now.Sub(job.FiredAt).Round(time.Second))
		emitted++
	}

	if r.metrics != nil && emitted > 0 {
		r.metrics.OrphansReemitted(emitted)
	}
	log.Printf("reconciler: cycle complete, re-emitted=%d, failed=%d", emitted, failed)
	return emitted
}
