package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/spf13/cobra"
)

// deps opens the backing services for a command. Each returned closer must
// be called once the command is done.
type deps struct {
	migrate func(ctx context.Context, cfg *config.Config) error
	sweep   func(ctx context.Context, cfg *config.Config) (booking.SweepResult, error)
	store   func(ctx context.Context, cfg *config.Config) (repository.BookingStore, func(), error)
}

func newRootCmd(d deps) *cobra.Command {
	var (
		cfgPath string
		cfg     *config.Config
	)

	root := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operate the flight booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(cfgPath)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.Path(), "path to the YAML config")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := d.migrate(cmd.Context(), cfg); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "reap",
		Short: "Cancel bookings whose payment window has passed, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := d.sweep(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return printJSON(cmd, res)
		},
	})

	bookingCmd := &cobra.Command{
		Use:   "booking",
		Short: "Inspect bookings",
	}
	bookingCmd.AddCommand(&cobra.Command{
		Use:   "show <booking-id>",
		Short: "Print a booking and its cancellation record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := d.store(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			return showBooking(cmd, store, args[0])
		},
	})
	root.AddCommand(bookingCmd)

	return root
}

type bookingView struct {
	Booking      *domain.Booking            `json:"booking"`
	Cancellation *domain.CancellationRecord `json:"cancellation,omitempty"`
}

func showBooking(cmd *cobra.Command, store repository.BookingStore, id string) error {
	ctx := cmd.Context()
	b, err := store.Get(ctx, id)
	if err != nil {
		return err
	}

	view := bookingView{Booking: b}
	if b.Status == domain.BookingStatusCancelled {
		// expired bookings have no record
		c, err := store.GetCancellation(ctx, id)
		switch {
		case err == nil:
			view.Cancellation = c
		case !domain.IsNotFound(err):
			return err
		}
	}
	return printJSON(cmd, view)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
