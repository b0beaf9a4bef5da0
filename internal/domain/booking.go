package domain

import "time"

type BookingStatus string

const (
	BookingStatusInitiated BookingStatus = "INITIATED"
	BookingStatusBooked    BookingStatus = "BOOKED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusInitiated: {BookingStatusBooked, BookingStatusCancelled},
	BookingStatusBooked:    {BookingStatusCancelled},
}

// CanTransitionTo reports whether the booking state machine allows moving
// from s to next. CANCELLED is terminal.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusInitiated, BookingStatusBooked, BookingStatusCancelled:
		return true
	}
	return false
}

// Booking holds seats on a flight. TotalCost is in the inventory's price unit
// and never changes after creation.
type Booking struct {
	ID        string        `json:"id"`
	FlightID  int64         `json:"flight_id"`
	UserID    string        `json:"user_id"`
	NoOfSeats int           `json:"no_of_seats"`
	TotalCost int64         `json:"total_cost"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PaymentDeadline is the end of the payment window that started at creation.
func (b *Booking) PaymentDeadline(window time.Duration) time.Time {
	return b.CreatedAt.Add(window)
}

// Expired reports whether the payment window has elapsed at now.
func (b *Booking) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(b.CreatedAt) > window
}

// BookingWithFlight is a booking enriched with the flight snapshot it was made
// against. Flight is nil when the inventory service could not be reached.
type BookingWithFlight struct {
	Booking
	Flight *Flight `json:"flight,omitempty"`
}
