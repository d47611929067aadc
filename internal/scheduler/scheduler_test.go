package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yejikwon7/multi-agent/internal/cron"
	"github.com/yejikwon7/multi-agent/internal/dispatcher"
	"github.com/yejikwon7/multi-agent/internal/domain"
	"github.com/yejikwon7/multi-agent/internal/registrar"
	"github.com/yejikwon7/multi-agent/internal/testutil"
)

type parserAdapter struct {
	parser *cron.Parser
}

func (a parserAdapter) Parse(expression, timezone string) (CronSchedule, error) {
	return a.parser.Parse(expression, timezone)
}

// mockEmitter tracks emitted events.
type mockEmitter struct {
	mu     sync.Mutex
	events []domain.FireEvent
	err    error
}

func (e *mockEmitter) Emit(ctx context.Context, event domain.FireEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

func (e *mockEmitter) eventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

type mockMetricsSink struct {
	mu        sync.Mutex
	started   int
	completed []int
}

func (m *mockMetricsSink) TickStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *mockMetricsSink) TickCompleted(d time.Duration, jobsTriggered int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, jobsTriggered)
}

func (m *mockMetricsSink) TickDrift(drift time.Duration) {}

var start = time.Date(2025, 11, 22, 15, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *MemoryStore, *mockEmitter, *testutil.FakeClock) {
	t.Helper()
	store := NewMemoryStore()
	emitter := &mockEmitter{}
	clock := testutil.NewFakeClock(start)
	s := New(Config{}, store, parserAdapter{cron.NewParser()}, emitter).WithClock(clock.Now)
	return s, store, emitter, clock
}

func registration(name string, runAt time.Time) registrar.Registration {
	return registrar.Registration{
		Name:            name,
		Group:           "default",
		Tag:             domain.TagFiveHoursBefore,
		RunAtExpression: cron.FormatAt(runAt),
		Input:           `{"to_email":"traveler@example.com","subject":"s","body":"b"}`,
		State:           registrar.StateEnabled,
	}
}

func TestScheduler_CreateSchedule(t *testing.T) {
	s, store, _, _ := newTestScheduler(t)
	ctx := testutil.TestContext(t)

	runAt := start.Add(5 * time.Hour)
	id, err := s.CreateSchedule(ctx, registration("flight-email-reminder-5h_before-aaaa0001", runAt))
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if id != "local:default/flight-email-reminder-5h_before-aaaa0001" {
		t.Errorf("id = %s", id)
	}

	jobs, _ := store.Jobs(ctx)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if !job.RunAt.Equal(runAt) {
		t.Errorf("RunAt = %s, want %s", job.RunAt, runAt)
	}
	if job.Status != domain.JobStatusPending || job.Tag != domain.TagFiveHoursBefore {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestScheduler_CreateSchedule_Rejects(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	ctx := testutil.TestContext(t)

	bad := registration("bad", start.Add(time.Hour))
	bad.RunAtExpression = "at(tomorrow)"
	if _, err := s.CreateSchedule(ctx, bad); err == nil {
		t.Error("expected parse error")
	}

	if _, err := s.CreateSchedule(ctx, registration("past", start.Add(-time.Minute))); err == nil {
		t.Error("expected error for an instant in the past")
	}

	if _, err := s.CreateSchedule(ctx, registration("dup", start.Add(time.Hour))); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := s.CreateSchedule(ctx, registration("dup", start.Add(2*time.Hour))); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestScheduler_FiresOnceWhenDue(t *testing.T) {
	s, store, emitter, clock := newTestScheduler(t)
	ctx := testutil.TestContext(t)

	runAt := start.Add(time.Hour)
	if _, err := s.CreateSchedule(ctx, registration("job-1", runAt)); err != nil {
		t.Fatal(err)
	}

	clock.Advance(59 * time.Minute)
	if err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if emitter.eventCount() != 0 {
		t.Fatal("fired before run time")
	}

	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		if err := s.Tick(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if emitter.eventCount() != 1 {
		t.Fatalf("expected exactly 1 event, got %d", emitter.eventCount())
	}

	ev := emitter.events[0]
	if ev.Name != "job-1" || !ev.ScheduledAt.Equal(runAt) || !ev.FiredAt.Equal(runAt) {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.IdempotencyKey != domain.IdempotencyKey(ev.JobID, runAt) || len(ev.IdempotencyKey) != 64 {
		t.Errorf("unexpected idempotency key %q", ev.IdempotencyKey)
	}

	jobs, _ := store.Jobs(ctx)
	if jobs[0].Status != domain.JobStatusFired {
		t.Errorf("status = %s, want fired", jobs[0].Status)
	}
}

func TestScheduler_LateTickCatchesUp(t *testing.T) {
	s, _, emitter, clock := newTestScheduler(t)
	ctx := testutil.TestContext(t)

	_, _ = s.CreateSchedule(ctx, registration("early", start.Add(time.Hour)))
	_, _ = s.CreateSchedule(ctx, registration("later", start.Add(3*time.Hour)))
	_, _ = s.CreateSchedule(ctx, registration("future", start.Add(10*time.Hour)))

	clock.Advance(4 * time.Hour)
	metrics := &mockMetricsSink{}
	s.WithMetrics(metrics)
	if err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	if emitter.eventCount() != 2 {
		t.Fatalf("expected 2 overdue jobs to fire, got %d", emitter.eventCount())
	}
	if emitter.events[0].Name != "early" || emitter.events[1].Name != "later" {
		t.Errorf("jobs should fire in run-time order: %s, %s", emitter.events[0].Name, emitter.events[1].Name)
	}
	if metrics.started != 1 || len(metrics.completed) != 1 || metrics.completed[0] != 2 {
		t.Errorf("metrics: started=%d completed=%v", metrics.started, metrics.completed)
	}
}

func TestScheduler_EmitErrorKeepsGoing(t *testing.T) {
	s, store, emitter, clock := newTestScheduler(t)
	ctx := testutil.TestContext(t)
	emitter.err = errors.New("buffer full")

	_, _ = s.CreateSchedule(ctx, registration("a", start.Add(time.Minute)))
	_, _ = s.CreateSchedule(ctx, registration("b", start.Add(2*time.Minute)))
	clock.Advance(time.Hour)

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("job errors must not fail the tick: %v", err)
	}

	// both were marked fired before the emit failed and are not retried
	pending, _ := store.PendingJobs(ctx)
	if len(pending) != 0 {
		t.Errorf("expected no pending jobs, got %d", len(pending))
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	s := New(Config{TickInterval: 5 * time.Millisecond}, store, parserAdapter{cron.NewParser()}, &mockEmitter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestMemoryStore_StatusGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := testutil.TestContext(t)
	job := domain.LocalJob{ID: testutil.MustParseUUID("6f1c1f52-5d0e-4f7e-9b0a-2d4c8f1e3a01"), Name: "j", Status: domain.JobStatusPending}
	if err := store.InsertJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := store.MarkFired(ctx, job.ID, start); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFired(ctx, job.ID, start); !errors.Is(err, ErrAlreadyFired) {
		t.Errorf("second MarkFired = %v", err)
	}
	if err := store.UpdateJobStatus(ctx, job.ID, domain.JobStatusDelivered); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed); !errors.Is(err, dispatcher.ErrStatusTransitionDenied) {
		t.Errorf("terminal regression = %v", err)
	}

	if err := store.RecordAttempt(ctx, domain.DeliveryAttempt{JobID: job.ID, Attempt: 1, StatusCode: 200}); err != nil {
		t.Fatal(err)
	}
	attempts, err := store.Attempts(ctx, job.ID)
	if err != nil || len(attempts) != 1 {
		t.Errorf("attempts = %v, %v", attempts, err)
	}

	unknown := testutil.MustParseUUID("00000000-0000-0000-0000-000000000001")
	if err := store.UpdateJobStatus(ctx, unknown, domain.JobStatusFailed); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("unknown job = %v", err)
	}
	if _, err := store.Attempts(ctx, unknown); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown attempts = %v", err)
	}
}

func TestScheduler_ImplementsRegistrarClient(t *testing.T) {
	s, store, _, _ := newTestScheduler(t)
	reg := registrar.New(registrar.Config{
		Enabled:   true,
		TargetARN: "local",
		RoleARN:   "local",
	}, s).WithClock(func() time.Time { return start })

	outcome := reg.Register(testutil.TestContext(t), domain.ScheduleRequest{
		RunTimeUTC: start.Add(2 * time.Hour),
		Tag:        domain.TagTwoHoursBefore,
		Recipient:  "traveler@example.com",
		Subject:    "s",
		Body:       "b",
	})
	if outcome.Status != domain.RegistrationRegistered {
		t.Fatalf("outcome = %+v", outcome)
	}

	jobs, _ := store.Jobs(context.Background())
	if len(jobs) != 1 || jobs[0].Tag != domain.TagTwoHoursBefore {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestMemoryStore_PruneTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := testutil.TestContext(t)

	insert := func(name string, status domain.JobStatus, firedAt time.Time) domain.LocalJob {
		t.Helper()
		job := domain.LocalJob{
			ID:      testutil.MustParseUUID("6f1c1f52-5d0e-4f7e-9b0a-2d4c8f1e3a0" + name[len(name)-1:]),
			Name:    name,
			Group:   "default",
			RunAt:   firedAt,
			FiredAt: firedAt,
			Status:  status,
		}
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatal(err)
		}
		return job
	}

	old := start.Add(-48 * time.Hour)
	delivered := insert("job-1", domain.JobStatusDelivered, old)
	insert("job-2", domain.JobStatusFailed, old)
	insert("job-3", domain.JobStatusFired, old)
	insert("job-4", domain.JobStatusPending, old)
	insert("job-5", domain.JobStatusDelivered, start)

	if err := store.RecordAttempt(ctx, domain.DeliveryAttempt{JobID: delivered.ID, Attempt: 1, StatusCode: 200}); err != nil {
		t.Fatal(err)
	}

	if n := store.PruneTerminal(ctx, start.Add(-24*time.Hour)); n != 2 {
		t.Fatalf("PruneTerminal removed %d jobs, want 2", n)
	}

	jobs, _ := store.Jobs(ctx)
	var names []string
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	if got := strings.Join(names, ","); got != "job-3,job-4,job-5" {
		t.Errorf("remaining jobs = %s, want job-3,job-4,job-5", got)
	}
	if _, err := store.Attempts(ctx, delivered.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("attempts of pruned job = %v, want ErrJobNotFound", err)
	}

	// The name is free again once the job is gone.
	if err := store.InsertJob(ctx, domain.LocalJob{ID: delivered.ID, Name: "job-1", Group: "default"}); err != nil {
		t.Errorf("re-insert after prune: %v", err)
	}
}

func TestScheduler_TickPrunesFinishedJobs(t *testing.T) {
	store := NewMemoryStore()
	emitter := &mockEmitter{}
	clock := testutil.NewFakeClock(start)
	s := New(Config{Retention: time.Hour}, store, parserAdapter{cron.NewParser()}, emitter).WithClock(clock.Now)
	ctx := testutil.TestContext(t)

	for _, name := range []string{"job-1", "job-2"} {
		if _, err := s.CreateSchedule(ctx, registration(name, start.Add(time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	clock.Advance(time.Minute)
	if err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	jobs, _ := store.Jobs(ctx)
	if len(jobs) != 2 {
		t.Fatalf("jobs after firing = %d, want 2", len(jobs))
	}
	if err := store.UpdateJobStatus(ctx, jobs[0].ID, domain.JobStatusDelivered); err != nil {
		t.Fatal(err)
	}

	clock.Advance(30 * time.Minute)
	_ = s.Tick(ctx)
	if jobs, _ := store.Jobs(ctx); len(jobs) != 2 {
		t.Fatalf("pruned inside retention window: %d jobs left", len(jobs))
	}

	clock.Advance(31 * time.Minute)
	_ = s.Tick(ctx)
	jobs, _ = store.Jobs(ctx)
	if len(jobs) != 1 || jobs[0].Status != domain.JobStatusFired {
		t.Errorf("after retention = %+v, want only the undelivered fired job", jobs)
	}
}
