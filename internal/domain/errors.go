package domain

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Field != "":
		return fmt.Sprintf("invalid %s", e.Field)
	default:
		return "validation error"
	}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	switch {
	case e.Resource == "":
		return "not found"
	case e.ID == "":
		return fmt.Sprintf("%s not found", e.Resource)
	default:
		return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
	}
}

type ConflictReason string

const (
	ReasonSeatsUnavailable  ConflictReason = "seats_unavailable"
	ReasonAlreadyBooked     ConflictReason = "already_booked"
	ReasonSessionExpired    ConflictReason = "session_expired"
	ReasonNothingToCancel   ConflictReason = "nothing_to_cancel"
	ReasonPaymentInProgress ConflictReason = "payment_in_progress"
	ReasonPaymentKeyReused  ConflictReason = "payment_key_reused"
)

// ConflictError is a deterministic business rejection. Two conflict errors
// match under errors.Is when their reasons are equal.
type ConflictError struct {
	Reason ConflictReason
	Msg    string
}

func (e ConflictError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Reason != "" {
		return string(e.Reason)
	}
	return "conflict"
}

func (e ConflictError) Is(target error) bool {
	t, ok := target.(ConflictError)
	return ok && t.Reason == e.Reason
}

var (
	ErrSeatsUnavailable  = ConflictError{Reason: ReasonSeatsUnavailable, Msg: "seats are not available"}
	ErrAlreadyBooked     = ConflictError{Reason: ReasonAlreadyBooked, Msg: "booking is already paid"}
	ErrSessionExpired    = ConflictError{Reason: ReasonSessionExpired, Msg: "booking session has expired"}
	ErrNothingToCancel   = ConflictError{Reason: ReasonNothingToCancel, Msg: "booking has not been paid, nothing to cancel"}
	ErrPaymentInProgress = ConflictError{Reason: ReasonPaymentInProgress, Msg: "a payment with this idempotency key is in progress"}
	ErrPaymentKeyReused  = ConflictError{Reason: ReasonPaymentKeyReused, Msg: "payment gateway saw this idempotency key with different details"}
)

// MismatchError means the booking exists but belongs to someone else.
type MismatchError struct {
	BookingID string
}

func (e MismatchError) Error() string {
	return fmt.Sprintf("booking %s does not belong to the caller", e.BookingID)
}

// UpstreamError is a timeout or outage of a remote service. It is retryable
// by the caller and never means a business rejection.
type UpstreamError struct {
	Service string
	Err     error
}

func (e UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s unavailable", e.Service)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e UpstreamError) Unwrap() error { return e.Err }

// CardDeclinedError carries the gateway's reason verbatim. A declined card
// must not be retried with the same card.
type CardDeclinedError struct {
	Reason string
	Code   string
}

func (e CardDeclinedError) Error() string {
	if e.Reason == "" {
		return "card declined"
	}
	return "card declined: " + e.Reason
}

type InternalError struct {
	Msg string
	Err error
}

func (e InternalError) Error() string {
	if e.Msg == "" {
		return "internal error"
	}
	return e.Msg
}

func (e InternalError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsMismatch(err error) bool {
	var target MismatchError
	return errors.As(err, &target)
}

func IsUpstream(err error) bool {
	var target UpstreamError
	return errors.As(err, &target)
}

func IsCardDeclined(err error) bool {
	var target CardDeclinedError
	return errors.As(err, &target)
}

func IsInternal(err error) bool {
	var target InternalError
	return errors.As(err, &target)
}
