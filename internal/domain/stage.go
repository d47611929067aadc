package domain

// Stage identifies one step of the recommendation pipeline.
type Stage string

const (
	StageProfile      Stage = "profile"
	StageFlight       Stage = "flight"
	StageParking      Stage = "parking"
	StageGate         Stage = "gate"
	StageNotification Stage = "notification"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageProfile,
	StageFlight,
	StageParking,
	StageGate,
	StageNotification,
}

// RawStageOutput is the opaque text a generator produced for one stage.
type RawStageOutput struct {
	Stage Stage
	Text  string
}

// Record is structured data recovered from a RawStageOutput.
// Values are JSON-decoded: string, float64, bool, map[string]any, []any or nil.
type Record map[string]any

// String returns the string value at key, or "" if absent or not a string.
func (r Record) String(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r[key].(string)
	return s
}

// Map returns the nested record at key.
func (r Record) Map(key string) (Record, bool) {
	if r == nil {
		return nil, false
	}
	m, ok := r[key].(map[string]any)
	if !ok {
		return nil, false
	}
	return Record(m), true
}

// Slice returns the sequence at key.
func (r Record) Slice(key string) ([]any, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r[key].([]any)
	return s, ok
}
