package domain

import "time"

// Tag identifies which alert window a trigger belongs to.
type Tag string

const (
	TagFiveHoursBefore Tag = "5h_before"
	TagTwoHoursBefore  Tag = "2h_before"
)

// Trigger is one absolute alert instant.
type Trigger struct {
	Tag            Tag
	RunAt          time.Time // UTC
	AlreadyElapsed bool      // RunAt was not strictly after now when computed
}

// TriggerPair holds both alert instants for one departure.
type TriggerPair struct {
	Departure      time.Time // UTC
	FiveHourBefore Trigger
	TwoHourBefore  Trigger
}

// Triggers returns the pair in registration order (5h first).
func (p TriggerPair) Triggers() []Trigger {
	return []Trigger{p.FiveHourBefore, p.TwoHourBefore}
}
