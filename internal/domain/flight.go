package domain

// FlightOption is the selected entry of the flight stage's best_flights list.
type FlightOption struct {
	Airline            string
	FlightNumber       string
	DepartureTimeLocal string // ISO-8601, offset may be implicit

	IsNonstop  *bool
	PriceTotal *float64
}
