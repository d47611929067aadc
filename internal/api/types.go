package api

import "time"

// RunRequest carries pre-produced stage outputs keyed by stage name
// (profile, flight, parking, gate, notification).
type RunRequest struct {
	Outputs map[string]string `json:"outputs"`
}

type RunResponse struct {
	State          string                 `json:"state"`
	Trace          []string               `json:"trace"`
	Flight         *FlightResponse        `json:"flight,omitempty"`
	Triggers       []TriggerResponse      `json:"triggers,omitempty"`
	Registrations  []RegistrationResponse `json:"registrations"`
	SchedulingSkip string                 `json:"scheduling_skip,omitempty"`
	SchedulingErr  string                 `json:"scheduling_error,omitempty"`
	StageErrors    map[string]string      `json:"stage_errors,omitempty"`
	HistorySaved   bool                   `json:"history_saved"`
	HistoryErr     string                 `json:"history_error,omitempty"`
}

type FlightResponse struct {
	Airline            string `json:"airline"`
	FlightNumber       string `json:"flight_number"`
	DepartureTimeLocal string `json:"departure_time_local"`
}

type TriggerResponse struct {
	Tag            string `json:"tag"`
	RunAt          string `json:"run_at"`
	AlreadyElapsed bool   `json:"already_elapsed"`
}

type RegistrationResponse struct {
	Tag          string `json:"tag"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	ScheduleName string `json:"schedule_name,omitempty"`
	RunAt        string `json:"run_at"`
	Error        string `json:"error,omitempty"`
}

type HistoryEntryResponse struct {
	CreatedAt   string         `json:"created_at"`
	Trip        map[string]any `json:"trip"`
	Passengers  map[string]any `json:"passengers"`
	HomeAddress string         `json:"home_address"`
}

type ListHistoryResponse struct {
	Entries []HistoryEntryResponse `json:"entries"`
}

type JobResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Group      string `json:"group"`
	Tag        string `json:"tag"`
	Expression string `json:"expression"`
	RunAt      string `json:"run_at"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

type AttemptResponse struct {
	ID         string `json:"id"`
	Attempt    int    `json:"attempt"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ListAttemptsResponse struct {
	Attempts []AttemptResponse `json:"attempts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
