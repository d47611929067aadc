package pipeline

import (
	"time"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

// Profile fields copied into the history entry's trip summary.
var tripKeys = []string{
	"destination",
	"departure_date",
	"departure_time",
	"seat_class",
	"airline",
	"flight_number",
	"terminal",
	"needs_parking",
	"prefers_public_transport",
}

var passengerKeys = []string{"adults", "children", "infants"}

// HistoryEntry summarises a run for the trip history log. The profile may
// carry nested "trip" and "passengers" objects or flat fields; both work.
func HistoryEntry(now time.Time, profile domain.Record, raw func(domain.Stage) string) domain.TripHistoryEntry {
	return domain.TripHistoryEntry{
		CreatedAt:    now.UTC(),
		Trip:         section(profile, "trip", tripKeys),
		Passengers:   section(profile, "passengers", passengerKeys),
		HomeAddress:  firstString(profile, "home_address", "origin_address"),
		ParkingRaw:   raw(domain.StageParking),
		DepartureRaw: raw(domain.StageGate),
		FlightRaw:    raw(domain.StageFlight),
	}
}

func section(profile domain.Record, nested string, keys []string) map[string]any {
	if m, ok := profile.Map(nested); ok {
		return map[string]any(m)
	}
	out := map[string]any{}
	for _, k := range keys {
		if v, ok := profile[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

func firstString(rec domain.Record, keys ...string) string {
	for _, k := range keys {
		if s := rec.String(k); s != "" {
			return s
		}
	}
	return ""
}
