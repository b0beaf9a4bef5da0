package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/payment"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory BookingStore. Writes made through a memTx become
// visible only on Commit. GetForUpdate locks the row until the transaction
// ends; a waiter gives up after lockWait the way lock_timeout would.
type memStore struct {
	mu            sync.Mutex
	bookings      map[string]domain.Booking
	cancellations map[string]domain.CancellationRecord
	payments      map[string]domain.Payment
	attempts      map[string]domain.PaymentAttempt
	locks         map[string]chan struct{}
	lockWait      time.Duration
	failCommits   int
	failUpdates   int
}

func newMemStore() *memStore {
	return &memStore{
		bookings:      make(map[string]domain.Booking),
		cancellations: make(map[string]domain.CancellationRecord),
		payments:      make(map[string]domain.Payment),
		attempts:      make(map[string]domain.PaymentAttempt),
		locks:         make(map[string]chan struct{}),
		lockWait:      time.Second,
	}
}

var errLockTimeout = errors.New("canceling statement due to lock timeout")

func (m *memStore) rowLock(id string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		m.locks[id] = l
	}
	return l
}

func (m *memStore) attempt(key string) (domain.PaymentAttempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[key]
	return a, ok
}

func (m *memStore) cancellationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancellations)
}

func (m *memStore) put(b domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
}

func (m *memStore) status(id string) domain.BookingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id].Status
}

func (m *memStore) setStatus(id string, status domain.BookingStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = status
	m.bookings[id] = b
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

func (m *memStore) Begin(ctx context.Context) (repository.BookingTx, error) {
	return &memTx{store: m, bookings: make(map[string]domain.Booking), held: make(map[string]bool)}, nil
}

func (m *memStore) Get(ctx context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: "booking", ID: id}
	}
	return &b, nil
}

func (m *memStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.Status == domain.BookingStatusInitiated && b.CreatedAt.Before(before) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Booking, 0)
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) FindPaymentByKey(ctx context.Context, key string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[key]
	if !ok {
		return nil, domain.NotFoundError{Resource: "payment"}
	}
	return &p, nil
}

func (m *memStore) FindPaymentAttempt(ctx context.Context, key string) (*domain.PaymentAttempt, error) {
	a, ok := m.attempt(key)
	if !ok {
		return nil, domain.NotFoundError{Resource: "payment attempt"}
	}
	return &a, nil
}

func (m *memStore) SavePaymentAttempt(ctx context.Context, a *domain.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.attempts[a.IdempotencyKey]; ok && prev.BookingID != a.BookingID {
		return domain.ValidationError{Field: "idempotency_key", Msg: "already used for another booking"}
	}
	m.attempts[a.IdempotencyKey] = *a
	return nil
}

func (m *memStore) GetCancellation(ctx context.Context, bookingID string) (*domain.CancellationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cancellations[bookingID]
	if !ok {
		return nil, domain.NotFoundError{Resource: "cancellation", ID: bookingID}
	}
	return &c, nil
}

type memTx struct {
	store         *memStore
	bookings      map[string]domain.Booking
	cancellations []domain.CancellationRecord
	payments      []domain.Payment
	held          map[string]bool
	closed        bool
}

var errTxClosed = errors.New("tx is closed")

func (t *memTx) lookup(id string) (domain.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return b, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	b, ok := t.store.bookings[id]
	return b, ok
}

func (t *memTx) Create(ctx context.Context, booking *domain.Booking) error {
	if t.closed {
		return errTxClosed
	}
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if _, exists := t.lookup(booking.ID); exists {
		return errors.New("duplicate booking id")
	}
	booking.UpdatedAt = booking.CreatedAt
	t.bookings[booking.ID] = *booking
	return nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	if t.closed {
		return nil, errTxClosed
	}
	if !t.held[id] {
		select {
		case t.store.rowLock(id) <- struct{}{}:
			t.held[id] = true
		case <-time.After(t.store.lockWait):
			return nil, errLockTimeout
		}
	}
	b, ok := t.lookup(id)
	if !ok {
		return nil, domain.NotFoundError{Resource: "booking", ID: id}
	}
	return &b, nil
}

func (t *memTx) UpdateStatus(ctx context.Context, id string, from, to domain.BookingStatus) (*domain.Booking, error) {
	if t.closed {
		return nil, errTxClosed
	}
	if !from.CanTransitionTo(to) {
		return nil, domain.InternalError{Msg: "illegal transition"}
	}
	t.store.mu.Lock()
	failed := t.store.failUpdates > 0
	if failed {
		t.store.failUpdates--
	}
	t.store.mu.Unlock()
	if failed {
		// the transaction stays open, as after a failed Postgres statement
		return nil, errors.New("canceling statement due to statement timeout")
	}
	b, ok := t.lookup(id)
	if !ok || b.Status != from {
		return nil, repository.ErrStaleStatus
	}
	b.Status = to
	t.bookings[id] = b
	return &b, nil
}

func (t *memTx) CreateCancellation(ctx context.Context, record *domain.CancellationRecord) error {
	if t.closed {
		return errTxClosed
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	t.cancellations = append(t.cancellations, *record)
	return nil
}

func (t *memTx) SavePayment(ctx context.Context, p *domain.Payment) error {
	if t.closed {
		return errTxClosed
	}
	t.store.mu.Lock()
	_, dup := t.store.payments[p.IdempotencyKey]
	t.store.mu.Unlock()
	if dup {
		return repository.ErrDuplicatePayment
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)
	t.payments = append(t.payments, *p)
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return errTxClosed
	}
	t.closed = true
	defer t.unlock()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.failCommits > 0 {
		t.store.failCommits--
		return errors.New("connection reset during commit")
	}
	for id, b := range t.bookings {
		t.store.bookings[id] = b
	}
	for _, c := range t.cancellations {
		t.store.cancellations[c.BookingID] = c
	}
	for _, p := range t.payments {
		t.store.payments[p.IdempotencyKey] = p
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.closed = true
	t.unlock()
	return nil
}

func (t *memTx) unlock() {
	for id := range t.held {
		<-t.store.rowLock(id)
		delete(t.held, id)
	}
}

// memGuard mirrors the Redis guard without the TTLs.
type memGuard struct {
	mu      sync.Mutex
	done    map[string]*domain.PaymentOutcome
	pending map[string]string
}

func newMemGuard() *memGuard {
	return &memGuard{done: make(map[string]*domain.PaymentOutcome), pending: make(map[string]string)}
}

func (g *memGuard) Begin(ctx context.Context, key string) (string, *domain.PaymentOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.done[key]; ok {
		return "", o, nil
	}
	if _, ok := g.pending[key]; ok {
		return "", nil, domain.ErrPaymentInProgress
	}
	owner := uuid.NewString()
	g.pending[key] = owner
	return owner, nil, nil
}

func (g *memGuard) Complete(ctx context.Context, key string, outcome *domain.PaymentOutcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, key)
	g.done[key] = outcome
	return nil
}

func (g *memGuard) Release(ctx context.Context, key, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.pending[key]; ok && cur == owner {
		delete(g.pending, key)
	}
	return nil
}

func (g *memGuard) isPending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key]
	return ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type MockInventory struct {
	mock.Mock
}

func (m *MockInventory) GetFlight(ctx context.Context, flightID int64) (*domain.Flight, error) {
	args := m.Called(ctx, flightID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Flight), args.Error(1)
}

func (m *MockInventory) Reserve(ctx context.Context, flightID int64, seats int) error {
	args := m.Called(ctx, flightID, seats)
	return args.Error(0)
}

func (m *MockInventory) Release(ctx context.Context, flightID int64, seats int) error {
	args := m.Called(ctx, flightID, seats)
	return args.Error(0)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCustomer(ctx context.Context, payer domain.Payer) (string, error) {
	args := m.Called(ctx, payer)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) TokenizeCard(ctx context.Context, customerID string, card domain.CardDetails) (string, error) {
	args := m.Called(ctx, customerID, card)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*domain.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChargeResult), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, chargeID string) error {
	args := m.Called(ctx, chargeID)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, key string, n domain.Notification) {
	m.Called(ctx, key, n)
}

func (m *MockNotifier) Emit(ctx context.Context, ev domain.BookingEvent) {
	m.Called(ctx, ev)
}
