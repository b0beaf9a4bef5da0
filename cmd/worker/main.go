package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/bootstrap"
	"github.com/Domenick1991/flightbooking/internal/cache"
	"github.com/Domenick1991/flightbooking/internal/email"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/logger"
	"github.com/Domenick1991/flightbooking/internal/notify"
	"github.com/Domenick1991/flightbooking/internal/reaper"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		logger.New(config.Default().Log, "booking-worker").WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Log, "booking-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.ConnString())
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	rdb := cache.NewClient(cfg.Redis)
	defer rdb.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()
	dispatcher := notify.NewDispatcher(producer, cfg.Kafka.NotificationsTopic, log,
		notify.WithEventsTopic(cfg.Kafka.BookingEventsTopic), notify.WithRetries(cfg.Kafka.PublishRetries))
	defer dispatcher.Wait()

	bookingService := bootstrap.NewBookingService(cfg, pool, rdb,
		bootstrap.NewInventoryClient(cfg.Inventory, log), dispatcher, log,
		booking.WithReleaseLimiter(rate.NewLimiter(rate.Limit(cfg.Worker.ReleaseRate), 1)),
	)
	sweeper := reaper.New(bookingService, cfg.Worker.SweepInterval, log.WithField("component", "reaper"),
		reaper.WithLease(cache.NewRedisCache(rdb, cfg.Booking.FlightsCacheTTL), cfg.Worker.SweepLockTTL))

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, log)
	defer consumer.Close()
	sender := email.NewSender(log.WithField("component", "email"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return consumer.Consume(gctx, sender.HandleMessage) })

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("worker stopped")
		return
	}
	log.Info("worker stopped")
}
