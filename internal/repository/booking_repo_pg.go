package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrStaleStatus means the row no longer had the expected status when the
	// update ran.
	ErrStaleStatus           = errors.New("booking status changed concurrently")
	ErrDuplicatePayment      = errors.New("payment for this idempotency key already recorded")
	ErrDuplicateCancellation = errors.New("booking already has a cancellation record")
)

const uniqueViolation = "23505"

// BookingStore persists bookings, cancellation records and payments. Mutations
// go through a BookingTx whose commit or rollback the caller owns.
type BookingStore interface {
	Begin(ctx context.Context) (BookingTx, error)
	Get(ctx context.Context, id string) (*domain.Booking, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Booking, error)
	FindPaymentByKey(ctx context.Context, key string) (*domain.Payment, error)
	FindPaymentAttempt(ctx context.Context, key string) (*domain.PaymentAttempt, error)
	// SavePaymentAttempt inserts or replaces the attempt for its key. A key
	// already bound to another booking is a validation error.
	SavePaymentAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	GetCancellation(ctx context.Context, bookingID string) (*domain.CancellationRecord, error)
}

type BookingTx interface {
	Create(ctx context.Context, booking *domain.Booking) error
	// GetForUpdate locks the booking row until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Booking, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.BookingStatus) (*domain.Booking, error)
	CreateCancellation(ctx context.Context, record *domain.CancellationRecord) error
	SavePayment(ctx context.Context, payment *domain.Payment) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	bookingColumns = `id, flight_id, user_id, no_of_seats, total_cost, status, created_at, updated_at`
	attemptColumns = `idempotency_key, booking_id, seq, customer_id, source_id, receipt_email, declined, created_at, updated_at`
)

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type PGBookingStore struct {
	db DB
}

func NewBookingStore(db DB) *PGBookingStore {
	return &PGBookingStore{db: db}
}

func (r *PGBookingStore) Begin(ctx context.Context) (BookingTx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgBookingTx{tx: tx}, nil
}

func (r *PGBookingStore) Get(ctx context.Context, id string) (*domain.Booking, error) {
	return getBooking(ctx, r.db, id, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
}

func (r *PGBookingStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`, domain.BookingStatusInitiated, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale bookings: %w", err)
	}
	return collectBookings(rows)
}

func (r *PGBookingStore) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookings by user: %w", err)
	}
	return collectBookings(rows)
}

func (r *PGBookingStore) FindPaymentByKey(ctx context.Context, key string) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT id, booking_id, idempotency_key, charge_id, receipt_url, amount, currency, created_at
		FROM payments WHERE idempotency_key=$1`, key)
	var p domain.Payment
	if err := row.Scan(&p.ID, &p.BookingID, &p.IdempotencyKey, &p.ChargeID, &p.ReceiptURL, &p.Amount, &p.Currency, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundError{Resource: "payment"}
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &p, nil
}

func (r *PGBookingStore) FindPaymentAttempt(ctx context.Context, key string) (*domain.PaymentAttempt, error) {
	row := r.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE idempotency_key=$1`, key)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundError{Resource: "payment attempt"}
		}
		return nil, fmt.Errorf("find payment attempt: %w", err)
	}
	return a, nil
}

func (r *PGBookingStore) SavePaymentAttempt(ctx context.Context, a *domain.PaymentAttempt) error {
	err := r.db.QueryRow(ctx, `INSERT INTO payment_attempts (idempotency_key, booking_id, seq, customer_id, source_id, receipt_email, declined)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET seq=EXCLUDED.seq, customer_id=EXCLUDED.customer_id, source_id=EXCLUDED.source_id,
			receipt_email=EXCLUDED.receipt_email, declined=EXCLUDED.declined, updated_at=now()
		WHERE payment_attempts.booking_id=EXCLUDED.booking_id
		RETURNING created_at, updated_at`,
		a.IdempotencyKey, a.BookingID, a.Seq, a.CustomerID, a.SourceID, a.ReceiptEmail, a.Declined).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ValidationError{Field: "idempotency_key", Msg: "already used for another booking"}
	}
	if err != nil {
		return fmt.Errorf("save payment attempt: %w", err)
	}
	return nil
}

func (r *PGBookingStore) GetCancellation(ctx context.Context, bookingID string) (*domain.CancellationRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT id, booking_id, name, phone, email, account_no, ifsc, created_at
		FROM cancellations WHERE booking_id=$1`, bookingID)
	var c domain.CancellationRecord
	if err := row.Scan(&c.ID, &c.BookingID, &c.Name, &c.Phone, &c.Email, &c.AccountNo, &c.IFSC, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundError{Resource: "cancellation", ID: bookingID}
		}
		return nil, fmt.Errorf("get cancellation: %w", err)
	}
	return &c, nil
}

type pgBookingTx struct {
	tx pgx.Tx
}

func (t *pgBookingTx) Create(ctx context.Context, booking *domain.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = domain.BookingStatusInitiated
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = time.Now().UTC()
	}

	err := t.tx.QueryRow(ctx, `INSERT INTO bookings (id, flight_id, user_id, no_of_seats, total_cost, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING updated_at`,
		booking.ID, booking.FlightID, booking.UserID, booking.NoOfSeats, booking.TotalCost, booking.Status, booking.CreatedAt).
		Scan(&booking.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *pgBookingTx) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	return getBooking(ctx, t.tx, id, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, id)
}

func (t *pgBookingTx) UpdateStatus(ctx context.Context, id string, from, to domain.BookingStatus) (*domain.Booking, error) {
	if !from.CanTransitionTo(to) {
		return nil, domain.InternalError{Msg: fmt.Sprintf("illegal booking transition %s -> %s", from, to)}
	}

	b, err := getBooking(ctx, t.tx, id, `UPDATE bookings SET status=$1, updated_at=now()
		WHERE id=$2 AND status=$3
		RETURNING `+bookingColumns, to, id, from)
	if domain.IsNotFound(err) {
		return nil, ErrStaleStatus
	}
	return b, err
}

func (t *pgBookingTx) CreateCancellation(ctx context.Context, record *domain.CancellationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO cancellations (id, booking_id, name, phone, email, account_no, ifsc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		record.ID, record.BookingID, record.Name, record.Phone, record.Email, record.AccountNo, record.IFSC).
		Scan(&record.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateCancellation
	}
	if err != nil {
		return fmt.Errorf("insert cancellation: %w", err)
	}
	return nil
}

func (t *pgBookingTx) SavePayment(ctx context.Context, payment *domain.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (id, booking_id, idempotency_key, charge_id, receipt_url, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		payment.ID, payment.BookingID, payment.IdempotencyKey, payment.ChargeID, payment.ReceiptURL, payment.Amount, payment.Currency).
		Scan(&payment.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgBookingTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback after a successful commit is a no-op.
func (t *pgBookingTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func getBooking(ctx context.Context, q querier, id, sql string, args ...any) (*domain.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundError{Resource: "booking", ID: id}
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	if err := row.Scan(&b.ID, &b.FlightID, &b.UserID, &b.NoOfSeats, &b.TotalCost, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanAttempt(row pgx.Row) (*domain.PaymentAttempt, error) {
	var a domain.PaymentAttempt
	if err := row.Scan(&a.IdempotencyKey, &a.BookingID, &a.Seq, &a.CustomerID, &a.SourceID, &a.ReceiptEmail, &a.Declined, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ BookingStore = (*PGBookingStore)(nil)
	_ BookingTx    = (*pgBookingTx)(nil)
)
