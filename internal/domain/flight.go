package domain

import "time"

// Flight is a point-in-time snapshot of a flight as advertised by the
// inventory service. AvailableSeats is the capacity still open for booking.
type Flight struct {
	ID             int64     `json:"id"`
	FlightNumber   string    `json:"flight_number"`
	FromAirport    string    `json:"from_airport"`
	ToAirport      string    `json:"to_airport"`
	DepartureTime  time.Time `json:"departure_time"`
	ArrivalTime    time.Time `json:"arrival_time"`
	AvailableSeats int       `json:"available_seats"`
	Price          int64     `json:"price"`
}
