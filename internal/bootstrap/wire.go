package bootstrap

import (
	"time"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/idempotency"
	"github.com/Domenick1991/flightbooking/internal/inventory"
	"github.com/Domenick1991/flightbooking/internal/notify"
	"github.com/Domenick1991/flightbooking/internal/payment"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const commitRetryDelay = 100 * time.Millisecond

// NewBookingService wires the orchestrator the same way for the API, the
// worker and the operator CLI. extra options are applied last.
func NewBookingService(
	cfg *config.Config,
	pool *pgxpool.Pool,
	rdb redis.UniversalClient,
	seats booking.SeatInventory,
	notifier notify.Notifier,
	log *logrus.Entry,
	extra ...booking.BookingServiceOption,
) *booking.BookingService {
	opts := []booking.BookingServiceOption{
		booking.WithPaymentWindow(cfg.Booking.PaymentWindow),
		booking.WithCurrency(cfg.Payment.Currency, cfg.Payment.MinorUnit),
		booking.WithCommitRetries(cfg.Booking.CommitRetries, commitRetryDelay),
		booking.WithSweepBatch(cfg.Worker.SweepBatch),
		booking.WithLogger(log.WithField("component", "booking")),
	}
	return booking.NewBookingService(
		repository.NewBookingStore(pool),
		seats,
		payment.NewStripeGateway(cfg.Payment, log.WithField("component", "payment")),
		idempotency.NewRedisGuard(rdb, cfg.Booking.IdempotencyPendingTTL, cfg.Booking.IdempotencyRetention),
		notifier,
		append(opts, extra...)...,
	)
}

func NewInventoryClient(cfg config.InventoryConfig, log *logrus.Entry) *inventory.Client {
	return inventory.NewClient(cfg.BaseURL, cfg.Timeout, inventory.WithLogger(log.WithField("component", "inventory")))
}
