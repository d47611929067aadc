package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yejikwon7/multi-agent/internal/dispatcher"
	"github.com/yejikwon7/multi-agent/internal/domain"
)

var (
	ErrDuplicateJob = errors.New("job name already registered")
	ErrJobNotFound  = errors.New("job not found")
	ErrAlreadyFired = errors.New("job already fired")
)

// MemoryStore keeps local jobs and their delivery attempts in process memory.
// Delivered and failed jobs stay until PruneTerminal drops them. It satisfies
// both Store and dispatcher.JobStore.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*domain.LocalJob
	byName   map[string]uuid.UUID
	attempts map[uuid.UUID][]domain.DeliveryAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[uuid.UUID]*domain.LocalJob),
		byName:   make(map[string]uuid.UUID),
		attempts: make(map[uuid.UUID][]domain.DeliveryAttempt),
	}
}

func (s *MemoryStore) InsertJob(ctx context.Context, job domain.LocalJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := job.Group + "/" + job.Name
	if _, exists := s.byName[key]; exists {
		return ErrDuplicateJob
	}
	s.jobs[job.ID] = &job
	s.byName[key] = job.ID
	return nil
}

func (s *MemoryStore) PendingJobs(ctx context.Context) ([]domain.LocalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.LocalJob
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusPending {
			out = append(out, *job)
		}
	}
	sortByRunAt(out)
	return out, nil
}

// MarkFired moves a pending job to fired. Any other state returns ErrAlreadyFired.
func (s *MemoryStore) MarkFired(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return ErrAlreadyFired
	}
	job.Status = domain.JobStatusFired
	job.FiredAt = at
	return nil
}

func (s *MemoryStore) RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[attempt.JobID]; !ok {
		return ErrJobNotFound
	}
	s.attempts[attempt.JobID] = append(s.attempts[attempt.JobID], attempt)
	return nil
}

func (s *MemoryStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == domain.JobStatusDelivered || job.Status == domain.JobStatusFailed {
		return dispatcher.ErrStatusTransitionDenied
	}
	job.Status = status
	return nil
}

// OrphanedJobs returns fired jobs that have no delivery attempt although they
// fired before olderThan, oldest run time first, at most max.
func (s *MemoryStore) OrphanedJobs(ctx context.Context, olderThan time.Time, max int) ([]domain.LocalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.LocalJob
	for id, job := range s.jobs {
		if job.Status != domain.JobStatusFired || !job.FiredAt.Before(olderThan) {
			continue
		}
		if len(s.attempts[id]) > 0 {
			continue
		}
		out = append(out, *job)
	}
	sortByRunAt(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Jobs returns every job ordered by run time.
func (s *MemoryStore) Jobs(ctx context.Context) ([]domain.LocalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.LocalJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sortByRunAt(out)
	return out, nil
}

func (s *MemoryStore) Attempts(ctx context.Context, id uuid.UUID) ([]domain.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return nil, ErrJobNotFound
	}
	out := make([]domain.DeliveryAttempt, len(s.attempts[id]))
	copy(out, s.attempts[id])
	return out, nil
}

// PruneTerminal drops delivered and failed jobs, with their attempts, that
// fired before olderThan. A job that never fired is aged by its run time.
// It returns the number of jobs removed.
func (s *MemoryStore) PruneTerminal(ctx context.Context, olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Status != domain.JobStatusDelivered && job.Status != domain.JobStatusFailed {
			continue
		}
		at := job.FiredAt
		if at.IsZero() {
			at = job.RunAt
		}
		if !at.Before(olderThan) {
			continue
		}
		delete(s.jobs, id)
		delete(s.byName, job.Group+"/"+job.Name)
		delete(s.attempts, id)
		removed++
	}
	return removed
}

func sortByRunAt(jobs []domain.LocalJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].RunAt.Equal(jobs[j].RunAt) {
			return jobs[i].RunAt.Before(jobs[j].RunAt)
		}
		return jobs[i].Name < jobs[j].Name
	})
}

var _ dispatcher.JobStore = (*MemoryStore)(nil)
