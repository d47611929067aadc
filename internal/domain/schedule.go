package domain

import "time"

// ScheduleRequest is one alert waiting to be registered with the external scheduler.
// It is only built for triggers that are still in the future.
type ScheduleRequest struct {
	RunTimeUTC time.Time
	Tag        Tag
	Recipient  string
	Subject    string
	Body       string
	Payload    map[string]any // extra fields merged into the delivered input
}

type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationSkipped    RegistrationStatus = "skipped"
	RegistrationFailed     RegistrationStatus = "failed"
)

// RegistrationOutcome reports what happened to a single ScheduleRequest.
type RegistrationOutcome struct {
	Tag          Tag
	Status       RegistrationStatus
	Reason       string // skip reason, empty otherwise
	ScheduleName string
	RunAt        time.Time
	Err          error
}
