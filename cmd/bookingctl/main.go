package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/bootstrap"
	"github.com/Domenick1991/flightbooking/internal/cache"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/logger"
	"github.com/Domenick1991/flightbooking/internal/notify"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(postgresDeps()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func postgresDeps() deps {
	return deps{
		migrate: func(ctx context.Context, cfg *config.Config) error {
			pool, err := pgxpool.New(ctx, cfg.Database.ConnString())
			if err != nil {
				return err
			}
			defer pool.Close()
			return repository.Migrate(ctx, pool)
		},
		sweep: func(ctx context.Context, cfg *config.Config) (booking.SweepResult, error) {
			log := logger.New(cfg.Log, "bookingctl")

			pool, err := pgxpool.New(ctx, cfg.Database.ConnString())
			if err != nil {
				return booking.SweepResult{}, err
			}
			defer pool.Close()

			rdb := cache.NewClient(cfg.Redis)
			defer rdb.Close()

			producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
			defer producer.Close()
			dispatcher := notify.NewDispatcher(producer, cfg.Kafka.NotificationsTopic, log,
				notify.WithEventsTopic(cfg.Kafka.BookingEventsTopic), notify.WithRetries(cfg.Kafka.PublishRetries))
			defer dispatcher.Wait()

			svc := bootstrap.NewBookingService(cfg, pool, rdb, bootstrap.NewInventoryClient(cfg.Inventory, log), dispatcher, log)
			return svc.CancelExpiredBookings(ctx)
		},
		store: func(ctx context.Context, cfg *config.Config) (repository.BookingStore, func(), error) {
			pool, err := pgxpool.New(ctx, cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return repository.NewBookingStore(pool), pool.Close, nil
		},
	}
}
