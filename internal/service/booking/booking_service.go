package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/idempotency"
	"github.com/Domenick1991/flightbooking/internal/notify"
	"github.com/Domenick1991/flightbooking/internal/payment"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/saga"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	CapturePayment(ctx context.Context, input CapturePaymentInput) (*domain.PaymentOutcome, error)
	CancelBooking(ctx context.Context, input CancelBookingInput) (*domain.Booking, error)
	CancelExpiredBookings(ctx context.Context) (SweepResult, error)
	GetBooking(ctx context.Context, id, userID string) (*domain.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]domain.BookingWithFlight, error)
}

type SeatInventory interface {
	GetFlight(ctx context.Context, flightID int64) (*domain.Flight, error)
	Reserve(ctx context.Context, flightID int64, seats int) error
	Release(ctx context.Context, flightID int64, seats int) error
}

type CreateBookingInput struct {
	FlightID  int64  `json:"flight_id"`
	UserID    string `json:"user_id"`
	NoOfSeats int    `json:"no_of_seats"`
}

type CapturePaymentInput struct {
	BookingID      string
	UserID         string
	IdempotencyKey string
	Card           domain.CardDetails
	Payer          domain.Payer
}

type CancelBookingInput struct {
	BookingID string
	Details   domain.CancellationDetails
}

// SweepResult summarises one pass of CancelExpiredBookings.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type BookingService struct {
	store     repository.BookingStore
	inventory SeatInventory
	gateway   payment.Gateway
	guard     idempotency.Guard
	notifier  notify.Notifier
	log       *logrus.Entry

	now           func() time.Time
	paymentWindow time.Duration
	currency      string
	minorUnit     int64
	commitRetries int
	retryDelay    time.Duration
	sweepBatch    int
	releaseLimit  *rate.Limiter
}

type BookingServiceOption func(*BookingService)

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) { s.now = now }
}

func WithPaymentWindow(window time.Duration) BookingServiceOption {
	return func(s *BookingService) { s.paymentWindow = window }
}

// WithCurrency sets the charge currency and how many minor units make one
// unit of the inventory's price.
func WithCurrency(currency string, minorUnit int64) BookingServiceOption {
	return func(s *BookingService) {
		s.currency = currency
		s.minorUnit = minorUnit
	}
}

func WithCommitRetries(attempts int, delay time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		s.commitRetries = attempts
		s.retryDelay = delay
	}
}

func WithSweepBatch(n int) BookingServiceOption {
	return func(s *BookingService) { s.sweepBatch = n }
}

// WithReleaseLimiter throttles the seat releases issued by a sweep.
func WithReleaseLimiter(l *rate.Limiter) BookingServiceOption {
	return func(s *BookingService) { s.releaseLimit = l }
}

func WithLogger(log *logrus.Entry) BookingServiceOption {
	return func(s *BookingService) { s.log = log }
}

func NewBookingService(
	store repository.BookingStore,
	inventory SeatInventory,
	gateway payment.Gateway,
	guard idempotency.Guard,
	notifier notify.Notifier,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		store:         store,
		inventory:     inventory,
		gateway:       gateway,
		guard:         guard,
		notifier:      notifier,
		log:           logrus.NewEntry(logrus.StandardLogger()),
		now:           func() time.Time { return time.Now().UTC() },
		paymentWindow: 5 * time.Minute,
		currency:      "inr",
		minorUnit:     100,
		commitRetries: 3,
		retryDelay:    100 * time.Millisecond,
		sweepBatch:    100,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.commitRetries < 1 {
		service.commitRetries = 1
	}
	return service
}

// CreateBooking holds seats for the caller. The local row is committed only
// after the remote reservation succeeded, so a committed INITIATED booking
// always has its seats held.
func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if input.FlightID <= 0 {
		return nil, domain.ValidationError{Field: "flight_id", Msg: "must be positive"}
	}
	if input.UserID == "" {
		return nil, domain.ValidationError{Field: "user_id", Msg: "is required"}
	}
	if input.NoOfSeats <= 0 {
		return nil, domain.ValidationError{Field: "no_of_seats", Msg: "must be positive"}
	}

	flight, err := s.inventory.GetFlight(ctx, input.FlightID)
	if err != nil {
		return nil, err
	}
	if input.NoOfSeats > flight.AvailableSeats {
		return nil, domain.ErrSeatsUnavailable
	}

	booking := &domain.Booking{
		FlightID:  input.FlightID,
		UserID:    input.UserID,
		NoOfSeats: input.NoOfSeats,
		TotalCost: int64(input.NoOfSeats) * flight.Price,
		Status:    domain.BookingStatusInitiated,
		CreatedAt: s.now(),
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.rollback(ctx, tx)

	log := s.log.WithFields(logrus.Fields{"flight_id": input.FlightID, "user_id": input.UserID})
	err = saga.New("create_booking", log).
		Step("insert booking",
			func(ctx context.Context) error { return tx.Create(ctx, booking) },
			func(ctx context.Context) error { return tx.Rollback(ctx) }).
		Step("reserve seats",
			func(ctx context.Context) error { return s.inventory.Reserve(ctx, booking.FlightID, booking.NoOfSeats) },
			func(ctx context.Context) error { return s.inventory.Release(ctx, booking.FlightID, booking.NoOfSeats) }).
		Step("commit",
			func(ctx context.Context) error { return s.persistCreated(ctx, tx, booking) },
			nil).
		Run(ctx)
	if err != nil {
		return nil, s.sagaCause(err)
	}

	log.WithField("booking_id", booking.ID).Info("booking created")
	s.notifier.Emit(ctx, domain.NewBookingEvent(domain.EventBookingCreated, booking, s.now()))
	return booking, nil
}

// persistCreated commits the insert. Seats are already held remotely at this
// point, so a failed commit is retried with a fresh transaction.
func (s *BookingService) persistCreated(ctx context.Context, tx repository.BookingTx, booking *domain.Booking) error {
	return s.retryPersist(ctx, "commit booking", func(ctx context.Context, attempt int) error {
		if attempt == 0 {
			return tx.Commit(ctx)
		}
		s.rollback(ctx, tx)
		// an ambiguous commit may have landed after all
		if _, err := s.store.Get(ctx, booking.ID); err == nil {
			return nil
		}
		retryTx, err := s.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer s.rollback(ctx, retryTx)
		if err := retryTx.Create(ctx, booking); err != nil {
			return err
		}
		return retryTx.Commit(ctx)
	})
}

// CapturePayment charges the card for an INITIATED booking exactly once per
// idempotency key and flips the booking to BOOKED.
func (s *BookingService) CapturePayment(ctx context.Context, input CapturePaymentInput) (*domain.PaymentOutcome, error) {
	if input.IdempotencyKey == "" {
		return nil, domain.ValidationError{Field: "idempotency_key", Msg: "is required"}
	}
	if input.BookingID == "" {
		return nil, domain.ValidationError{Field: "booking_id", Msg: "is required"}
	}

	key := input.IdempotencyKey
	log := s.log.WithFields(logrus.Fields{"booking_id": input.BookingID, "idempotency_key": key})

	owner, prior, err := s.guard.Begin(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		log.Info("payment replayed from idempotency store")
		return replay(prior, input.BookingID)
	}

	claimed := true
	defer func() {
		if !claimed {
			return
		}
		if err := s.guard.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			log.WithError(err).Warn("failed to release idempotency key")
		}
	}()

	if recorded, err := s.store.FindPaymentByKey(ctx, key); err == nil {
		outcome := recorded.Outcome()
		s.completeKey(ctx, key, outcome, log)
		claimed = false
		log.Info("payment replayed from payment record")
		return replay(outcome, input.BookingID)
	} else if !domain.IsNotFound(err) {
		return nil, err
	}

	booking, err := s.store.Get(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	switch booking.Status {
	case domain.BookingStatusBooked:
		return nil, domain.ErrAlreadyBooked
	case domain.BookingStatusCancelled:
		return nil, domain.ErrSessionExpired
	}
	if booking.UserID != input.UserID {
		return nil, domain.MismatchError{BookingID: booking.ID}
	}
	if booking.Expired(s.now(), s.paymentWindow) {
		if _, err := s.expireBooking(ctx, booking.ID); err != nil {
			log.WithError(err).Error("failed to cancel expired booking, the reaper will retry")
		}
		return nil, domain.ErrSessionExpired
	}

	amount := booking.TotalCost * s.minorUnit
	var (
		attempt   *domain.PaymentAttempt
		charge    *domain.ChargeResult
		recorded  *domain.Payment
		confirmed *domain.Booking
	)
	err = saga.New("capture_payment", log).
		Step("prepare attempt", func(ctx context.Context) error {
			var err error
			attempt, err = s.prepareAttempt(ctx, key, booking.ID, input)
			return err
		}, nil).
		Step("charge", func(ctx context.Context) error {
			var err error
			charge, err = s.gateway.Charge(ctx, payment.ChargeRequest{
				CustomerID:     attempt.CustomerID,
				SourceID:       attempt.SourceID,
				Amount:         amount,
				Currency:       s.currency,
				Description:    "Flight booking " + booking.ID,
				ReceiptEmail:   attempt.ReceiptEmail,
				IdempotencyKey: attempt.GatewayKey(),
			})
			if domain.IsCardDeclined(err) {
				s.markDeclined(ctx, attempt, log)
			}
			return err
		}, func(ctx context.Context) error {
			// a replayed gateway key returns the original charge; keep it
			if existing, err := s.store.FindPaymentByKey(ctx, key); err == nil && existing.ChargeID == charge.ChargeID {
				return nil
			}
			return s.gateway.Refund(ctx, charge.ChargeID)
		}).
		Step("mark booked", func(ctx context.Context) error {
			var err error
			recorded, confirmed, err = s.markBooked(ctx, booking.ID, &domain.Payment{
				BookingID:      booking.ID,
				IdempotencyKey: key,
				ChargeID:       charge.ChargeID,
				ReceiptURL:     charge.ReceiptURL,
				Amount:         amount,
				Currency:       s.currency,
			})
			return err
		}, nil).
		Run(ctx)
	if err != nil {
		cause := s.sagaCause(err)
		if errors.Is(cause, repository.ErrDuplicatePayment) {
			// another instance recorded this key first; its outcome stands
			if existing, findErr := s.store.FindPaymentByKey(context.WithoutCancel(ctx), key); findErr == nil {
				return replay(existing.Outcome(), input.BookingID)
			}
		}
		if charge != nil && !domain.IsConflict(cause) {
			return nil, domain.InternalError{Msg: "payment was refunded because the booking could not be confirmed", Err: cause}
		}
		return nil, cause
	}

	outcome := recorded.Outcome()
	s.completeKey(ctx, key, outcome, log)
	claimed = false

	log.WithField("charge_id", outcome.ChargeID).Info("payment captured")
	s.notifier.Notify(ctx, booking.ID, domain.Notification{
		Recipient: input.Payer.Email,
		Subject:   "Flight booking confirmation",
		Body: fmt.Sprintf("Dear %s,\n\nYour booking %s for flight %d is confirmed: %d seat(s), total %d.\nReceipt: %s\n",
			input.Payer.Name, confirmed.ID, confirmed.FlightID, confirmed.NoOfSeats, confirmed.TotalCost, outcome.ReceiptURL),
	})
	s.notifier.Emit(ctx, domain.NewBookingEvent(domain.EventBookingConfirmed, confirmed, s.now()))
	return outcome, nil
}

// prepareAttempt returns the customer and card source to charge. An attempt
// that did not end in a decline is reused unchanged, so a retry after an
// outage repeats the exact request the gateway may already have processed.
// After a decline the caller's new details go out under the next gateway key.
func (s *BookingService) prepareAttempt(ctx context.Context, key, bookingID string, input CapturePaymentInput) (*domain.PaymentAttempt, error) {
	seq := 1
	prev, err := s.store.FindPaymentAttempt(ctx, key)
	switch {
	case err == nil:
		if prev.BookingID != bookingID {
			return nil, domain.ValidationError{Field: "idempotency_key", Msg: "already used for another booking"}
		}
		if !prev.Declined {
			s.log.WithFields(logrus.Fields{"booking_id": bookingID, "seq": prev.Seq}).Info("reusing unfinished payment attempt")
			return prev, nil
		}
		seq = prev.Seq + 1
	case !domain.IsNotFound(err):
		return nil, err
	}

	customerID, err := s.gateway.CreateCustomer(ctx, input.Payer)
	if err != nil {
		return nil, err
	}
	sourceID, err := s.gateway.TokenizeCard(ctx, customerID, input.Card)
	if err != nil {
		return nil, err
	}

	attempt := &domain.PaymentAttempt{
		IdempotencyKey: key,
		BookingID:      bookingID,
		Seq:            seq,
		CustomerID:     customerID,
		SourceID:       sourceID,
		ReceiptEmail:   input.Payer.Email,
	}
	if err := s.store.SavePaymentAttempt(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *BookingService) markDeclined(ctx context.Context, attempt *domain.PaymentAttempt, log *logrus.Entry) {
	attempt.Declined = true
	if err := s.store.SavePaymentAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		// until this lands, retries replay the gateway's cached decline
		log.WithError(err).Warn("failed to record declined payment attempt")
	}
}

// markBooked flips INITIATED to BOOKED and records the payment in one
// transaction. The charge has already succeeded, so transient failures are
// retried; a booking that is no longer INITIATED is a conflict.
func (s *BookingService) markBooked(ctx context.Context, bookingID string, p *domain.Payment) (*domain.Payment, *domain.Booking, error) {
	var confirmed *domain.Booking
	err := s.retryPersist(ctx, "mark booked", func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			if existing, err := s.store.FindPaymentByKey(ctx, p.IdempotencyKey); err == nil && existing.BookingID == bookingID {
				b, err := s.store.Get(ctx, bookingID)
				if err != nil {
					return err
				}
				*p, confirmed = *existing, b
				return nil
			}
		}

		tx, err := s.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer s.rollback(ctx, tx)

		current, err := tx.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		switch current.Status {
		case domain.BookingStatusBooked:
			return domain.ErrAlreadyBooked
		case domain.BookingStatusCancelled:
			return domain.ErrSessionExpired
		}

		updated, err := tx.UpdateStatus(ctx, bookingID, domain.BookingStatusInitiated, domain.BookingStatusBooked)
		if err != nil {
			return err
		}
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		confirmed = updated
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return p, confirmed, nil
}

// CancelBooking cancels a paid booking and releases its seats. Cancelling an
// already cancelled booking succeeds without side effects.
func (s *BookingService) CancelBooking(ctx context.Context, input CancelBookingInput) (*domain.Booking, error) {
	if input.BookingID == "" {
		return nil, domain.ValidationError{Field: "booking_id", Msg: "is required"}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.rollback(ctx, tx)

	current, err := tx.GetForUpdate(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	if input.Details.UserID != "" && current.UserID != input.Details.UserID {
		return nil, domain.MismatchError{BookingID: current.ID}
	}
	switch current.Status {
	case domain.BookingStatusCancelled:
		return current, nil
	case domain.BookingStatusInitiated:
		return nil, domain.ErrNothingToCancel
	}

	d := input.Details
	record := &domain.CancellationRecord{
		BookingID: current.ID,
		Name:      d.Name,
		Phone:     d.Phone,
		Email:     d.Email,
		AccountNo: d.AccountNo,
		IFSC:      d.IFSC,
	}

	log := s.log.WithField("booking_id", current.ID)
	var cancelled *domain.Booking
	err = saga.New("cancel_booking", log).
		Step("release seats",
			func(ctx context.Context) error { return s.inventory.Release(ctx, current.FlightID, current.NoOfSeats) },
			func(ctx context.Context) error { return s.inventory.Reserve(ctx, current.FlightID, current.NoOfSeats) }).
		Step("mark cancelled", func(ctx context.Context) error {
			var err error
			cancelled, err = s.persistCancelled(ctx, tx, current, record)
			return err
		}, nil).
		Run(ctx)
	if err != nil {
		return nil, s.sagaCause(err)
	}

	log.Info("booking cancelled")
	s.notifier.Notify(ctx, cancelled.ID, domain.Notification{
		Recipient: d.Email,
		Subject:   "Flight cancellation confirmation",
		Body: fmt.Sprintf("Dear %s,\n\nYour booking %s for flight %d has been cancelled and %d seat(s) released. The refund of %d will be sent to account %s.\n",
			d.Name, cancelled.ID, cancelled.FlightID, cancelled.NoOfSeats, cancelled.TotalCost, d.AccountNo),
	})
	s.notifier.Emit(ctx, domain.NewBookingEvent(domain.EventBookingCancelled, cancelled, s.now()))
	return cancelled, nil
}

// CancelExpiredBookings cancels INITIATED bookings whose payment window has
// passed. Each booking is compensated in its own transaction and a failure
// on one does not stop the rest.
func (s *BookingService) CancelExpiredBookings(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	stale, err := s.store.ListStalePending(ctx, s.now().Add(-s.paymentWindow), s.sweepBatch)
	if err != nil {
		return result, err
	}
	result.Scanned = len(stale)

	for _, b := range stale {
		if s.releaseLimit != nil {
			if err := s.releaseLimit.Wait(ctx); err != nil {
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		done, err := s.expireBooking(ctx, b.ID)
		switch {
		case err != nil:
			result.Failed++
			s.log.WithError(err).WithField("booking_id", b.ID).Warn("failed to cancel expired booking")
		case done:
			result.Cancelled++
		default:
			result.Skipped++
		}
	}
	return result, nil
}

// expireBooking re-checks the booking under a row lock and cancels it only if
// it is still INITIATED and past its window. It reports whether it did.
func (s *BookingService) expireBooking(ctx context.Context, bookingID string) (bool, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer s.rollback(ctx, tx)

	current, err := tx.GetForUpdate(ctx, bookingID)
	if err != nil {
		return false, err
	}
	if current.Status != domain.BookingStatusInitiated || !current.Expired(s.now(), s.paymentWindow) {
		return false, nil
	}

	log := s.log.WithField("booking_id", current.ID)
	var expired *domain.Booking
	err = saga.New("expire_booking", log).
		Step("release seats",
			func(ctx context.Context) error { return s.inventory.Release(ctx, current.FlightID, current.NoOfSeats) },
			func(ctx context.Context) error { return s.inventory.Reserve(ctx, current.FlightID, current.NoOfSeats) }).
		Step("mark cancelled", func(ctx context.Context) error {
			var err error
			expired, err = s.persistCancelled(ctx, tx, current, nil)
			return err
		}, nil).
		Run(ctx)
	if err != nil {
		return false, s.sagaCause(err)
	}

	log.Info("expired booking cancelled")
	s.notifier.Emit(ctx, domain.NewBookingEvent(domain.EventBookingExpired, expired, s.now()))
	return true, nil
}

// persistCancelled moves current to CANCELLED and stores record when given.
// Seats are already released, so a failed write is retried with a fresh
// transaction that first checks whether the earlier attempt landed.
func (s *BookingService) persistCancelled(ctx context.Context, tx repository.BookingTx, current *domain.Booking, record *domain.CancellationRecord) (*domain.Booking, error) {
	var cancelled *domain.Booking
	err := s.retryPersist(ctx, "mark cancelled", func(ctx context.Context, attempt int) error {
		work := tx
		if attempt > 0 {
			// a failed statement leaves the first transaction open and still
			// holding the row lock
			s.rollback(ctx, tx)

			retryTx, err := s.store.Begin(ctx)
			if err != nil {
				return err
			}
			defer s.rollback(ctx, retryTx)

			latest, err := retryTx.GetForUpdate(ctx, current.ID)
			if err != nil {
				return err
			}
			if latest.Status == domain.BookingStatusCancelled {
				cancelled = latest
				return nil
			}
			if latest.Status != current.Status {
				return repository.ErrStaleStatus
			}
			work = retryTx
		}

		updated, err := work.UpdateStatus(ctx, current.ID, current.Status, domain.BookingStatusCancelled)
		if err != nil {
			return err
		}
		if record != nil {
			if err := work.CreateCancellation(ctx, record); err != nil {
				return err
			}
		}
		if err := work.Commit(ctx); err != nil {
			return err
		}
		cancelled = updated
		return nil
	})
	return cancelled, err
}

func (s *BookingService) GetBooking(ctx context.Context, id, userID string) (*domain.Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && b.UserID != userID {
		return nil, domain.MismatchError{BookingID: id}
	}
	return b, nil
}

// ListUserBookings returns the user's bookings, newest first, each with the
// current flight snapshot when the inventory service could provide one.
func (s *BookingService) ListUserBookings(ctx context.Context, userID string) ([]domain.BookingWithFlight, error) {
	if userID == "" {
		return nil, domain.ValidationError{Field: "user_id", Msg: "is required"}
	}

	bookings, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var flightIDs []int64
	seen := make(map[int64]bool)
	for _, b := range bookings {
		if !seen[b.FlightID] {
			seen[b.FlightID] = true
			flightIDs = append(flightIDs, b.FlightID)
		}
	}

	var (
		mu      sync.Mutex
		flights = make(map[int64]*domain.Flight, len(flightIDs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, flightID := range flightIDs {
		g.Go(func() error {
			f, err := s.inventory.GetFlight(gctx, flightID)
			if err != nil {
				s.log.WithError(err).WithField("flight_id", flightID).Debug("flight snapshot unavailable")
				return nil
			}
			mu.Lock()
			flights[flightID] = f
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.BookingWithFlight, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, domain.BookingWithFlight{Booking: b, Flight: flights[b.FlightID]})
	}
	return out, nil
}

// retryPersist runs fn until it succeeds, returns a business error, or the
// attempts run out. It ignores caller cancellation: it only guards writes
// that follow a remote side effect which already happened.
func (s *BookingService) retryPersist(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt < s.commitRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryDelay * time.Duration(attempt))
		}
		if err = fn(ctx, attempt); err == nil || isFinal(err) {
			return err
		}
		s.log.WithError(err).WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).Warn("persist failed, retrying")
	}
	return err
}

func isFinal(err error) bool {
	return domain.IsConflict(err) || domain.IsNotFound(err) || domain.IsMismatch(err) ||
		domain.IsValidation(err) || domain.IsInternal(err) ||
		errors.Is(err, repository.ErrStaleStatus) || errors.Is(err, repository.ErrDuplicatePayment) ||
		errors.Is(err, repository.ErrDuplicateCancellation)
}

// sagaCause unwraps a saga failure to the failing step's error. A failed
// compensation is logged loudly since it leaves remote state to reconcile.
func (s *BookingService) sagaCause(err error) error {
	var sagaErr *saga.Error
	if !errors.As(err, &sagaErr) {
		return err
	}
	if sagaErr.Compensation != nil {
		s.log.WithError(sagaErr.Compensation).WithFields(logrus.Fields{
			"saga": sagaErr.Saga,
			"step": sagaErr.Step,
		}).Error("compensation failed, manual reconciliation needed")
	}
	if errors.Is(sagaErr.Err, repository.ErrStaleStatus) {
		return domain.ErrSessionExpired
	}
	return sagaErr.Err
}

func (s *BookingService) completeKey(ctx context.Context, key string, outcome *domain.PaymentOutcome, log *logrus.Entry) {
	if err := s.guard.Complete(context.WithoutCancel(ctx), key, outcome); err != nil {
		// the payments table still dedupes this key
		log.WithError(err).Warn("failed to store idempotency outcome")
	}
}

func (s *BookingService) rollback(ctx context.Context, tx repository.BookingTx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.log.WithError(err).Warn("rollback failed")
	}
}

func replay(outcome *domain.PaymentOutcome, bookingID string) (*domain.PaymentOutcome, error) {
	if outcome.BookingID != bookingID {
		return nil, domain.ValidationError{Field: "idempotency_key", Msg: "already used for another booking"}
	}
	return outcome, nil
}

var _ BookingUseCase = (*BookingService)(nil)
