package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusFired     JobStatus = "fired"
	JobStatusDelivered JobStatus = "delivered"
	JobStatusFailed    JobStatus = "failed"
)

// LocalJob is a one-shot alert held by the in-process scheduler.
type LocalJob struct {
	ID    uuid.UUID
	Name  string
	Group string
	Tag   Tag

	Expression string    // at(...) expression it was registered with
	RunAt      time.Time // UTC
	Input      string    // JSON document handed to the notification webhook
	Status     JobStatus

	CreatedAt time.Time
	FiredAt   time.Time // zero until the scheduler fires the job
}

// FireEvent builds the event announcing that j became due at scheduledAt.
// Re-emitting the same job produces the same idempotency key.
func (j LocalJob) FireEvent(scheduledAt, firedAt time.Time) FireEvent {
	return FireEvent{
		JobID:          j.ID,
		Name:           j.Name,
		Tag:            j.Tag,
		Input:          j.Input,
		ScheduledAt:    scheduledAt.UTC(),
		FiredAt:        firedAt,
		IdempotencyKey: IdempotencyKey(j.ID, scheduledAt),
	}
}

// FireEvent is emitted by the local scheduler when a job becomes due.
type FireEvent struct {
	JobID uuid.UUID
	Name  string
	Tag   Tag
	Input string

	ScheduledAt    time.Time // intended fire time (UTC)
	FiredAt        time.Time // actual emission time
	IdempotencyKey string
}

// DeliveryAttempt records one webhook call for a fired job.
type DeliveryAttempt struct {
	ID      uuid.UUID
	JobID   uuid.UUID
	Attempt int

	StatusCode int
	Error      string

	StartedAt  time.Time
	FinishedAt time.Time
}

// IdempotencyKey is the hex SHA-256 of the job ID and scheduled unix time.
func IdempotencyKey(jobID uuid.UUID, scheduledAt time.Time) string {
	data := fmt.Sprintf("%s:%d", jobID.String(), scheduledAt.Unix())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
