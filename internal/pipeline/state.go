package pipeline

import "github.com/yejikwon7/multi-agent/internal/domain"

// State is one step of a pipeline run. A run only moves forward.
type State string

const (
	StateCollectingProfile     State = "collecting_profile"
	StateRecommendingFlight    State = "recommending_flight"
	StateRecommendingParking   State = "recommending_parking"
	StateRecommendingGate      State = "recommending_gate"
	StateComposingNotification State = "composing_notification"
	StateSchedulingAlerts      State = "scheduling_alerts"
	StatePersistingHistory     State = "persisting_history"
	StateDone                  State = "done"
)

// generationSteps maps each generation state to the stage it produces.
var generationSteps = []struct {
	state State
	stage domain.Stage
}{
	{StateCollectingProfile, domain.StageProfile},
	{StateRecommendingFlight, domain.StageFlight},
	{StateRecommendingParking, domain.StageParking},
	{StateRecommendingGate, domain.StageGate},
	{StateComposingNotification, domain.StageNotification},
}

// States lists every state in transition order.
var States = []State{
	StateCollectingProfile,
	StateRecommendingFlight,
	StateRecommendingParking,
	StateRecommendingGate,
	StateComposingNotification,
	StateSchedulingAlerts,
	StatePersistingHistory,
	StateDone,
}
