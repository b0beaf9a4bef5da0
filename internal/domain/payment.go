package domain

import (
	"fmt"
	"time"
)

type CardDetails struct {
	Number   string
	ExpMonth string
	ExpYear  string
	CVC      string
}

// Payer is the person paying for a booking; Email receives the confirmation.
type Payer struct {
	Name  string
	Email string
}

type ChargeResult struct {
	ChargeID   string `json:"charge_id"`
	ReceiptURL string `json:"receipt_url"`
}

// Payment is the persisted record of a captured charge. IdempotencyKey is
// unique across all payments.
type Payment struct {
	ID             string    `json:"id"`
	BookingID      string    `json:"booking_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	ChargeID       string    `json:"charge_id"`
	ReceiptURL     string    `json:"receipt_url"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
}

// PaymentAttempt remembers the gateway objects made for an idempotency key,
// so a retry after an outage sends the gateway the same request again.
type PaymentAttempt struct {
	IdempotencyKey string    `json:"idempotency_key"`
	BookingID      string    `json:"booking_id"`
	Seq            int       `json:"seq"`
	CustomerID     string    `json:"customer_id"`
	SourceID       string    `json:"source_id"`
	ReceiptEmail   string    `json:"receipt_email"`
	Declined       bool      `json:"declined"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GatewayKey is the idempotency key sent to the gateway. The gateway replays
// a cached decline for a key it has seen, so each attempt after a decline
// moves to the next sequence number.
func (a *PaymentAttempt) GatewayKey() string {
	return fmt.Sprintf("charge-%s-%d", a.IdempotencyKey, a.Seq)
}

// PaymentOutcome is what a successful capture returns, and what a replay of
// the same idempotency key returns again.
type PaymentOutcome struct {
	BookingID  string    `json:"booking_id"`
	PaymentID  string    `json:"payment_id"`
	ChargeID   string    `json:"charge_id"`
	ReceiptURL string    `json:"receipt_url"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	CapturedAt time.Time `json:"captured_at"`
}

func (p *Payment) Outcome() *PaymentOutcome {
	return &PaymentOutcome{
		BookingID:  p.BookingID,
		PaymentID:  p.ID,
		ChargeID:   p.ChargeID,
		ReceiptURL: p.ReceiptURL,
		Amount:     p.Amount,
		Currency:   p.Currency,
		CapturedAt: p.CreatedAt,
	}
}

// Notification is handed to the notification dispatcher after a commit.
type Notification struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}
