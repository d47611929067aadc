// Package channel is the in-process transport between the local scheduler
// and the notification dispatcher.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

const DefaultEmitTimeout = 5 * time.Second

var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink observes buffer occupancy. Methods must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

// WithEmitTimeout bounds how long Emit waits for buffer space.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

// EventBus carries fired alert jobs to a single consumer.
type EventBus struct {
	ch          chan domain.FireEvent
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.FireEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues event. It returns ErrBufferFull when no space frees up
// within the emit timeout, or ctx.Err() if ctx ends first.
func (b *EventBus) Emit(ctx context.Context, event domain.FireEvent) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.observe()
		return nil
	case <-ctx.Done():
		b.emitFailed()
		return ctx.Err()
	case <-timer.C:
		b.emitFailed()
		return ErrBufferFull
	}
}

// Channel returns the receive side for the dispatcher.
func (b *EventBus) Channel() <-chan domain.FireEvent {
	return b.ch
}

// Close closes the channel. Emit must not be called afterwards.
func (b *EventBus) Close() {
	close(b.ch)
}

func (b *EventBus) observe() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}

func (b *EventBus) emitFailed() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}
