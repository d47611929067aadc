package extract

import (
	"encoding/json"
	"fmt"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

// Flight selects the first entry of the flight record's best_flights list.
// Missing optional fields are left zero; the caller decides which fields it needs.
func Flight(rec domain.Record) (domain.FlightOption, bool) {
	flights, ok := rec.Slice("best_flights")
	if !ok || len(flights) == 0 {
		return domain.FlightOption{}, false
	}
	first, ok := flights[0].(map[string]any)
	if !ok {
		return domain.FlightOption{}, false
	}
	r := domain.Record(first)

	opt := domain.FlightOption{
		Airline:            r.String("airline"),
		FlightNumber:       r.String("flight_number"),
		DepartureTimeLocal: r.String("departure_time_local"),
	}
	if v, ok := r["is_nonstop"].(bool); ok {
		opt.IsNonstop = &v
	}
	if v, ok := r["price_total"].(float64); ok {
		opt.PriceTotal = &v
	}
	return opt, true
}

// Decode converts a record into a typed value by round-tripping through JSON.
func Decode[T any](rec domain.Record) (T, error) {
	var out T
	data, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("marshal record: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}
