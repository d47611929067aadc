package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yejikwon7/multi-agent/internal/domain"
	"github.com/yejikwon7/multi-agent/internal/pipeline"
	"github.com/yejikwon7/multi-agent/internal/scheduler"
)

// Pagination defaults and limits.
const (
	DefaultLimit = domain.MaxTripHistory
	MaxLimit     = 1000
)

// Runner executes one pipeline run over the given stage outputs.
type Runner interface {
	Run(ctx context.Context, outputs map[domain.Stage]string) *pipeline.Result
}

// HistoryReader loads the stored trip history, oldest first.
type HistoryReader interface {
	Load(ctx context.Context) ([]domain.TripHistoryEntry, error)
}

// JobStore exposes the local scheduler's jobs. Nil when the backend is remote.
type JobStore interface {
	Jobs(ctx context.Context) ([]domain.LocalJob, error)
	Attempts(ctx context.Context, id uuid.UUID) ([]domain.DeliveryAttempt, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	runner  Runner
	history HistoryReader
	jobs    JobStore // optional
	db      HealthChecker
}

func NewHandler(runner Runner, history HistoryReader) *Handler {
	return &Handler{runner: runner, history: history}
}

// WithJobStore enables the /jobs endpoints.
func (h *Handler) WithJobStore(jobs JobStore) *Handler {
	h.jobs = jobs
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/runs" && r.Method == http.MethodPost:
		h.createRun(w, r)

	case path == "/history" && r.Method == http.MethodGet:
		h.listHistory(w, r)

	case path == "/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case strings.HasSuffix(path, "/attempts") && r.Method == http.MethodGet:
		h.listAttempts(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["history_database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["history_database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize caps a POST /runs body at 1 MiB.
const maxRequestBodySize = 1 << 20

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	outputs, err := validateRun(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.runner.Run(r.Context(), outputs)
	writeJSON(w, http.StatusOK, runResponse(res))
}

func runResponse(res *pipeline.Result) RunResponse {
	resp := RunResponse{
		State:          string(res.State()),
		Trace:          make([]string, len(res.Trace)),
		Registrations:  make([]RegistrationResponse, len(res.Outcomes)),
		SchedulingSkip: res.SchedulingSkip,
		HistorySaved:   res.History != nil && res.HistoryErr == nil,
	}
	for i, s := range res.Trace {
		resp.Trace[i] = string(s)
	}
	if res.Flight != nil {
		resp.Flight = &FlightResponse{
			Airline:            res.Flight.Airline,
			FlightNumber:       res.Flight.FlightNumber,
			DepartureTimeLocal: res.Flight.DepartureTimeLocal,
		}
	}
	if res.Triggers != nil {
		for _, t := range res.Triggers.Triggers() {
			resp.Triggers = append(resp.Triggers, TriggerResponse{
				Tag:            string(t.Tag),
				RunAt:          formatTime(t.RunAt),
				AlreadyElapsed: t.AlreadyElapsed,
			})
		}
	}
	for i, o := range res.Outcomes {
		reg := RegistrationResponse{
			Tag:          string(o.Tag),
			Status:       string(o.Status),
			Reason:       o.Reason,
			ScheduleName: o.ScheduleName,
			RunAt:        formatTime(o.RunAt),
		}
		if o.Err != nil {
			reg.Error = o.Err.Error()
		}
		resp.Registrations[i] = reg
	}
	if res.SchedulingErr != nil {
		resp.SchedulingErr = res.SchedulingErr.Error()
	}
	if len(res.StageErrors) > 0 {
		resp.StageErrors = make(map[string]string, len(res.StageErrors))
		for stage, err := range res.StageErrors {
			resp.StageErrors[string(stage)] = err.Error()
		}
	}
	if res.HistoryErr != nil {
		resp.HistoryErr = res.HistoryErr.Error()
	}
	return resp
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.history.Load(r.Context())
	if err != nil {
		log.Printf("api: load history error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	entries = page(entries, limit, offset)
	resp := ListHistoryResponse{Entries: make([]HistoryEntryResponse, len(entries))}
	for i, e := range entries {
		resp.Entries[i] = HistoryEntryResponse{
			CreatedAt:   formatTime(e.CreatedAt),
			Trip:        e.Trip,
			Passengers:  e.Passengers,
			HomeAddress: e.HomeAddress,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusNotFound, "local scheduler not enabled")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.jobs.Jobs(r.Context())
	if err != nil {
		log.Printf("api: list jobs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	jobs = page(jobs, limit, offset)
	resp := ListJobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = JobResponse{
			ID:         j.ID.String(),
			Name:       j.Name,
			Group:      j.Group,
			Tag:        string(j.Tag),
			Expression: j.Expression,
			RunAt:      formatTime(j.RunAt),
			Status:     string(j.Status),
			CreatedAt:  formatTime(j.CreatedAt),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusNotFound, "local scheduler not enabled")
		return
	}

	// Extract job ID from path: /jobs/{id}/attempts
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "jobs" || parts[2] != "attempts" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	attempts, err := h.jobs.Attempts(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("api: list attempts error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}

	resp := ListAttemptsResponse{Attempts: make([]AttemptResponse, len(attempts))}
	for i, a := range attempts {
		resp.Attempts[i] = AttemptResponse{
			ID:         a.ID.String(),
			Attempt:    a.Attempt,
			StatusCode: a.StatusCode,
			Error:      a.Error,
			StartedAt:  formatTime(a.StartedAt),
			FinishedAt: formatTime(a.FinishedAt),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination reads limit and offset. A missing or zero limit means
// DefaultLimit.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = DefaultLimit, 0
	q := r.URL.Query()

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, 0, errors.New("limit must be a non-negative integer")
		}
		if n > MaxLimit {
			return 0, 0, fmt.Errorf("limit exceeds maximum of %d", MaxLimit)
		}
		if n > 0 {
			limit = n
		}
	}

	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = n
	}

	return limit, offset, nil
}
