package domain

import "time"

// MaxTripHistory is the number of entries the history log retains.
const MaxTripHistory = 20

// TripHistoryEntry is the persisted summary of one pipeline run.
type TripHistoryEntry struct {
	CreatedAt    time.Time      `json:"created_at"`
	Trip         map[string]any `json:"trip"`
	Passengers   map[string]any `json:"passengers"`
	HomeAddress  string         `json:"home_address"`
	ParkingRaw   string         `json:"parking_raw"`
	DepartureRaw string         `json:"departure_raw"`
	FlightRaw    string         `json:"flight_raw"`
}
