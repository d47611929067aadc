// Package analytics keeps hourly counters of alert registration outcomes in Redis.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	keyPrefix        = "concierge:reg"
)

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		clock:     time.Now,
	}
}

func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// Record implements registrar.AnalyticsSink. Errors are logged, never returned.
func (s *RedisSink) Record(ctx context.Context, outcome domain.RegistrationOutcome) {
	if err := s.Write(ctx, outcome); err != nil {
		log.Printf("analytics: tag=%s status=%s: %v", outcome.Tag, outcome.Status, err)
	}
}

// Write increments the counter for the outcome's tag, status and hour.
func (s *RedisSink) Write(ctx context.Context, outcome domain.RegistrationOutcome) error {
	key := buildKey(outcome.Tag, outcome.Status, s.clock())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Count returns the counter for one tag, status and hour.
func (s *RedisSink) Count(ctx context.Context, tag domain.Tag, status domain.RegistrationStatus, hour time.Time) (int64, error) {
	n, err := s.client.Get(ctx, buildKey(tag, status, hour)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func buildKey(tag domain.Tag, status domain.RegistrationStatus, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, tag, status, hourBucket(t))
}

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}
