package domain

import "time"

// CancellationDetails identifies who asked for a cancellation and where the
// refund goes.
type CancellationDetails struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	AccountNo string `json:"account_no"`
	IFSC      string `json:"ifsc"`
}

// CancellationRecord references a booking by id only; it is written once per
// explicit cancellation and never updated.
type CancellationRecord struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	AccountNo string    `json:"account_no"`
	IFSC      string    `json:"ifsc"`
	CreatedAt time.Time `json:"created_at"`
}
