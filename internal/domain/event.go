package domain

import "time"

type EventType string

const (
	EventBookingCreated   EventType = "booking_created"
	EventBookingConfirmed EventType = "booking_confirmed"
	EventBookingCancelled EventType = "booking_cancelled"
	EventBookingExpired   EventType = "booking_expired"
)

// BookingEvent is published to the booking-events topic after the state
// change it describes has committed.
type BookingEvent struct {
	Type       EventType     `json:"type"`
	BookingID  string        `json:"booking_id"`
	FlightID   int64         `json:"flight_id"`
	UserID     string        `json:"user_id"`
	NoOfSeats  int           `json:"no_of_seats"`
	TotalCost  int64         `json:"total_cost"`
	Status     BookingStatus `json:"status"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func NewBookingEvent(t EventType, b *Booking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:       t,
		BookingID:  b.ID,
		FlightID:   b.FlightID,
		UserID:     b.UserID,
		NoOfSeats:  b.NoOfSeats,
		TotalCost:  b.TotalCost,
		Status:     b.Status,
		OccurredAt: at,
	}
}
