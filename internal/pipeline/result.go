package pipeline

import (
	"time"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

// Result is everything one run produced, including partial results.
type Result struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Trace      []State

	Outputs     []domain.RawStageOutput
	Records     map[domain.Stage]domain.Record
	StageErrors map[domain.Stage]error

	Flight         *domain.FlightOption
	Triggers       *domain.TriggerPair
	Requests       []domain.ScheduleRequest
	Outcomes       []domain.RegistrationOutcome
	SchedulingSkip string // set when scheduling was skipped as a whole
	SchedulingErr  error

	History    *domain.TripHistoryEntry
	HistoryErr error
}

func newResult(now time.Time) *Result {
	return &Result{
		StartedAt:   now,
		Records:     map[domain.Stage]domain.Record{},
		StageErrors: map[domain.Stage]error{},
	}
}

func (r *Result) enter(s State) {
	r.Trace = append(r.Trace, s)
}

// State returns the last state the run entered.
func (r *Result) State() State {
	if len(r.Trace) == 0 {
		return ""
	}
	return r.Trace[len(r.Trace)-1]
}

// Output returns the raw text produced for stage, or "".
func (r *Result) Output(stage domain.Stage) string {
	for _, o := range r.Outputs {
		if o.Stage == stage {
			return o.Text
		}
	}
	return ""
}

// Count returns the number of outcomes with the given status.
func (r *Result) Count(status domain.RegistrationStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// priorOutputs returns a copy so generators cannot mutate captured output.
func (r *Result) priorOutputs() []domain.RawStageOutput {
	out := make([]domain.RawStageOutput, len(r.Outputs))
	copy(out, r.Outputs)
	return out
}
