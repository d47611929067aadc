package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yejikwon7/multi-agent/internal/circuitbreaker"
	"github.com/yejikwon7/multi-agent/internal/domain"
)

// mockStore tracks job status transitions and enforces the terminal state guard.
type mockStore struct {
	mu            sync.Mutex
	status        map[uuid.UUID]domain.JobStatus
	attempts      []domain.DeliveryAttempt
	statusUpdates []statusUpdate
	updateErr     error
}

type statusUpdate struct {
	JobID  uuid.UUID
	Status domain.JobStatus
	Denied bool
}

func newMockStore() *mockStore {
	return &mockStore{status: make(map[uuid.UUID]domain.JobStatus)}
}

func (s *mockStore) RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *mockStore) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}

	current := s.status[jobID]
	if current == domain.JobStatusDelivered || current == domain.JobStatusFailed {
		s.statusUpdates = append(s.statusUpdates, statusUpdate{JobID: jobID, Status: status, Denied: true})
		return ErrStatusTransitionDenied
	}

	s.status[jobID] = status
	s.statusUpdates = append(s.statusUpdates, statusUpdate{JobID: jobID, Status: status})
	return nil
}

func (s *mockStore) setStatus(id uuid.UUID, status domain.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = status
}

func (s *mockStore) getStatus(id uuid.UUID) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

func (s *mockStore) getStatusUpdates() []statusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]statusUpdate, len(s.statusUpdates))
	copy(out, s.statusUpdates)
	return out
}

func (s *mockStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// mockSender returns the configured results in order, then success.
type mockSender struct {
	mu       sync.Mutex
	results  []WebhookResult
	index    int
	requests []WebhookRequest
}

func (s *mockSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.index < len(s.results) {
		result := s.results[s.index]
		s.index++
		return result
	}
	return WebhookResult{StatusCode: 200, Duration: 10 * time.Millisecond}
}

func (s *mockSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type mockMetrics struct {
	mu       sync.Mutex
	attempts []string
	outcomes []string
	retries  int
	inFlight int
}

func (m *mockMetrics) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, statusClass)
}

func (m *mockMetrics) DeliveryOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockMetrics) RetryAttempt(retryable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *mockMetrics) EventsInFlightIncr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
}

func (m *mockMetrics) EventsInFlightDecr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

const testInput = `{"body":"집에서 05:30까지 출발하세요.","subject":"[출국 알림] KE123","to_email":"traveler@example.com"}`

func testConfig() Config {
	return Config{URL: "http://localhost:9090/notify", Secret: "s3cret", Timeout: time.Second}
}

func newTestEvent() domain.FireEvent {
	id := uuid.New()
	return domain.FireEvent{
		JobID:          id,
		Name:           "flight-email-reminder-5h_before-0a1b2c3d",
		Tag:            domain.TagFiveHoursBefore,
		Input:          testInput,
		ScheduledAt:    time.Date(2025, 11, 22, 20, 15, 0, 0, time.UTC),
		FiredAt:        time.Date(2025, 11, 22, 20, 15, 1, 0, time.UTC),
		IdempotencyKey: id.String(),
	}
}

func newTestDispatcher(store JobStore, sender WebhookSender) *Dispatcher {
	d := New(testConfig(), store, sender)
	d.backoff = []time.Duration{0, 0, 0, 0}
	return d
}

func TestDispatcher_SuccessOnFirstAttempt(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}
	event := newTestEvent()

	if err := newTestDispatcher(store, sender).Dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if store.getStatus(event.JobID) != domain.JobStatusDelivered {
		t.Errorf("status = %s, want delivered", store.getStatus(event.JobID))
	}
	if sender.callCount() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.callCount())
	}

	req := sender.requests[0]
	if string(req.Body) != testInput {
		t.Errorf("body = %s, want the job input verbatim", req.Body)
	}
	if req.URL != testConfig().URL || req.Secret != "s3cret" {
		t.Errorf("unexpected endpoint %s", req.URL)
	}
	if req.JobName != event.Name || req.IdempotencyKey != event.IdempotencyKey {
		t.Errorf("job headers not propagated: %+v", req)
	}
	if req.AttemptID == "" {
		t.Error("attempt id should be set")
	}
	if store.attemptCount() != 1 {
		t.Errorf("expected 1 recorded attempt, got %d", store.attemptCount())
	}
}

func TestDispatcher_TerminalState_DeliveredCannotRegress(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{results: []WebhookResult{{StatusCode: 200}}}
	event := newTestEvent()
	store.setStatus(event.JobID, domain.JobStatusDelivered)

	if err := newTestDispatcher(store, sender).Dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch should succeed on replay: %v", err)
	}

	if store.getStatus(event.JobID) != domain.JobStatusDelivered {
		t.Error("status should remain delivered")
	}
	updates := store.getStatusUpdates()
	if len(updates) != 1 || !updates[0].Denied {
		t.Fatalf("expected one denied update, got %+v", updates)
	}
}

func TestDispatcher_TerminalState_FailedCannotRegress(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}
	event := newTestEvent()
	store.setStatus(event.JobID, domain.JobStatusFailed)

	if err := newTestDispatcher(store, sender).Dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch should succeed on replay: %v", err)
	}
	if store.getStatus(event.JobID) != domain.JobStatusFailed {
		t.Error("status should remain failed")
	}
}

func TestDispatcher_RetryBounded(t *testing.T) {
	store := newMockStore()
	results := make([]WebhookResult, 10)
	for i := range results {
		results[i] = WebhookResult{StatusCode: 503}
	}
	sender := &mockSender{results: results}
	event := newTestEvent()

	if err := newTestDispatcher(store, sender).Dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if sender.callCount() != maxAttempts {
		t.Errorf("sent %d times, want %d", sender.callCount(), maxAttempts)
	}
	if store.getStatus(event.JobID) != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", store.getStatus(event.JobID))
	}
}

func TestDispatcher_NonRetryableStopsImmediately(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{results: []WebhookResult{{StatusCode: 400}}}
	event := newTestEvent()

	_ = newTestDispatcher(store, sender).Dispatch(context.Background(), event)

	if sender.callCount() != 1 {
		t.Errorf("sent %d times, want 1", sender.callCount())
	}
	if store.getStatus(event.JobID) != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", store.getStatus(event.JobID))
	}
}

func TestDispatcher_429ThenSuccess(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{results: []WebhookResult{{StatusCode: 429}, {Error: errors.New("connection refused")}, {StatusCode: 204}}}
	event := newTestEvent()
	metrics := &mockMetrics{}

	d := newTestDispatcher(store, sender).WithMetrics(metrics)
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if sender.callCount() != 3 {
		t.Errorf("sent %d times, want 3", sender.callCount())
	}
	if store.getStatus(event.JobID) != domain.JobStatusDelivered {
		t.Errorf("status = %s, want delivered", store.getStatus(event.JobID))
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	want := []string{"4xx", "connection_error", "2xx"}
	for i, class := range want {
		if metrics.attempts[i] != class {
			t.Errorf("attempt %d class = %s, want %s", i+1, metrics.attempts[i], class)
		}
	}
	if metrics.retries != 2 {
		t.Errorf("retries = %d, want 2", metrics.retries)
	}
	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "success" {
		t.Errorf("outcomes = %v", metrics.outcomes)
	}
	if metrics.inFlight != 0 {
		t.Errorf("in-flight gauge not balanced: %d", metrics.inFlight)
	}
}

func TestDispatcher_NoEndpoint(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}
	event := newTestEvent()

	d := New(Config{}, store, sender)
	err := d.Dispatch(context.Background(), event)
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
	if sender.callCount() != 0 {
		t.Error("nothing should be sent without an endpoint")
	}
	if store.getStatus(event.JobID) != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", store.getStatus(event.JobID))
	}
}

func TestDispatcher_CircuitOpenSkipsSend(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}
	metrics := &mockMetrics{}

	cb := circuitbreaker.New(1, time.Hour)
	cb.RecordFailure(testConfig().URL)

	event := newTestEvent()
	d := newTestDispatcher(store, sender).WithCircuitBreaker(cb).WithMetrics(metrics)
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if sender.callCount() != 0 {
		t.Errorf("sent %d times while circuit open", sender.callCount())
	}
	if store.getStatus(event.JobID) != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", store.getStatus(event.JobID))
	}
	if metrics.outcomes[0] != "circuit_open" {
		t.Errorf("outcome = %v", metrics.outcomes)
	}
}

func TestDispatcher_FailuresOpenCircuit(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{results: []WebhookResult{{StatusCode: 500}, {StatusCode: 500}, {StatusCode: 500}, {StatusCode: 500}}}
	cb := circuitbreaker.New(2, time.Hour)

	d := newTestDispatcher(store, sender).WithCircuitBreaker(cb)
	_ = d.Dispatch(context.Background(), newTestEvent())

	if sender.callCount() != 2 {
		t.Errorf("sent %d times, want 2 before the circuit opened", sender.callCount())
	}
	if cb.State(testConfig().URL) != circuitbreaker.StateOpen {
		t.Errorf("circuit state = %s, want open", cb.State(testConfig().URL))
	}
}

func TestDispatcher_StoreErrorPropagates(t *testing.T) {
	store := newMockStore()
	store.updateErr = errors.New("disk full")

	err := newTestDispatcher(store, &mockSender{}).Dispatch(context.Background(), newTestEvent())
	if err == nil || !errors.Is(err, store.updateErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestDispatcher_BackoffCancelled(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{results: []WebhookResult{{StatusCode: 503}}}
	d := New(testConfig(), store, sender)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := d.Dispatch(ctx, newTestEvent())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while backing off, got %v", err)
	}
}

func TestDispatcher_RunDrainsOnCancel(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}
	d := newTestDispatcher(store, sender)

	ch := make(chan domain.FireEvent, 3)
	for i := 0; i < 3; i++ {
		ch <- newTestEvent()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if sender.callCount() != 3 {
		t.Errorf("delivered %d buffered events, want 3", sender.callCount())
	}
}

func TestDispatcher_RunStopsOnClosedChannel(t *testing.T) {
	d := newTestDispatcher(newMockStore(), &mockSender{})
	ch := make(chan domain.FireEvent)
	close(ch)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return when the channel is closed")
	}
}

func TestDispatcher_BackoffSchedule(t *testing.T) {
	if len(defaultBackoff) != maxAttempts {
		t.Fatalf("backoff entries = %d, want %d", len(defaultBackoff), maxAttempts)
	}
	if defaultBackoff[0] != 0 {
		t.Error("first attempt must not wait")
	}
	for i := 1; i < len(defaultBackoff); i++ {
		if defaultBackoff[i] <= defaultBackoff[i-1] {
			t.Errorf("backoff not increasing at %d", i)
		}
	}
}

func TestWebhookResult_Classification(t *testing.T) {
	tests := []struct {
		result    WebhookResult
		success   bool
		retryable bool
	}{
		{WebhookResult{StatusCode: 200}, true, false},
		{WebhookResult{StatusCode: 299}, true, false},
		{WebhookResult{StatusCode: 301}, false, false},
		{WebhookResult{StatusCode: 400}, false, false},
		{WebhookResult{StatusCode: 429}, false, true},
		{WebhookResult{StatusCode: 500}, false, true},
		{WebhookResult{StatusCode: 200, Error: errors.New("x")}, false, true},
	}
	for _, tt := range tests {
		if got := tt.result.IsSuccess(); got != tt.success {
			t.Errorf("%+v IsSuccess = %v", tt.result, got)
		}
		if got := tt.result.IsRetryable(); got != tt.retryable {
			t.Errorf("%+v IsRetryable = %v", tt.result, got)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		err  error
		want string
	}{
		{200, nil, "2xx"},
		{404, nil, "4xx"},
		{502, nil, "5xx"},
		{0, nil, "other_error"},
		{0, context.DeadlineExceeded, "timeout"},
		{0, errors.New("Client.Timeout exceeded"), "timeout"},
		{0, errors.New("dial tcp: connection refused"), "connection_error"},
		{0, errors.New("boom"), "other_error"},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.code, tt.err); got != tt.want {
			t.Errorf("classifyStatus(%d, %v) = %s, want %s", tt.code, tt.err, got, tt.want)
		}
	}
}
