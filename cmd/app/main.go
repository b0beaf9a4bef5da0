package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/flightbooking/api"
	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/bootstrap"
	"github.com/Domenick1991/flightbooking/internal/cache"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/logger"
	"github.com/Domenick1991/flightbooking/internal/notify"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/service/flights"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		logger.New(config.Default().Log, "booking-api").WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Log, "booking-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.ConnString())
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	rdb := cache.NewClient(cfg.Redis)
	defer rdb.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()
	if err := producer.CheckConnection(ctx); err != nil {
		// notifications are best effort, bookings still work without them
		log.WithError(err).Warn("kafka unreachable at startup")
	}
	dispatcher := notify.NewDispatcher(producer, cfg.Kafka.NotificationsTopic, log,
		notify.WithEventsTopic(cfg.Kafka.BookingEventsTopic), notify.WithRetries(cfg.Kafka.PublishRetries))
	// in-flight notifications finish before the producer closes
	defer dispatcher.Wait()

	inventoryClient := bootstrap.NewInventoryClient(cfg.Inventory, log)
	bookingService := bootstrap.NewBookingService(cfg, pool, rdb, inventoryClient, dispatcher, log)
	flightService := flights.NewFlightService(inventoryClient,
		cache.NewRedisCache(rdb, cfg.Booking.FlightsCacheTTL),
		log.WithField("component", "flights"))

	gin.SetMode(cfg.HTTP.Mode)
	router := api.NewRouter(cfg.HTTP, log.WithField("component", "http"),
		api.NewBookingHandler(bookingService),
		api.NewFlightHandler(flightService),
	)

	if err := bootstrap.Run(ctx, cfg, router, log); err != nil {
		log.WithError(err).Error("server error")
	}
}
