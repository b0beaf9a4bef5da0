package reaper

import (
	"context"
	"time"

	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const leaseName = "reaper-sweep"

type expirySweeper interface {
	CancelExpiredBookings(ctx context.Context) (booking.SweepResult, error)
}

// Lease is a best-effort mutual exclusion between worker replicas. Sweeps are
// safe to overlap; the lease only saves duplicate remote releases.
type Lease interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

type Reaper struct {
	sweeper  expirySweeper
	interval time.Duration
	lease    Lease
	leaseTTL time.Duration
	owner    string
	log      *logrus.Entry
}

type Option func(*Reaper)

func WithLease(lease Lease, ttl time.Duration) Option {
	return func(r *Reaper) {
		r.lease = lease
		r.leaseTTL = ttl
	}
}

func New(sweeper expirySweeper, interval time.Duration, log *logrus.Entry, opts ...Option) *Reaper {
	r := &Reaper{
		sweeper:  sweeper,
		interval: interval,
		owner:    uuid.NewString(),
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps once at start and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithField("interval", r.interval.String()).Info("reaper started")
	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	res, swept, err := r.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.WithError(err).Error("failed to cancel expired bookings")
		}
		return
	}
	if !swept {
		r.log.Debug("sweep lease held elsewhere, skipping")
		return
	}
	if res.Scanned > 0 {
		r.log.WithFields(logrus.Fields{
			"scanned":   res.Scanned,
			"cancelled": res.Cancelled,
			"skipped":   res.Skipped,
			"failed":    res.Failed,
		}).Info("expired bookings swept")
	}
}

// RunOnce performs a single sweep. swept is false when another replica holds
// the lease.
func (r *Reaper) RunOnce(ctx context.Context) (res booking.SweepResult, swept bool, err error) {
	if r.lease != nil {
		ok, err := r.lease.AcquireLock(ctx, leaseName, r.owner, r.leaseTTL)
		if err != nil {
			// sweeping twice is safe, skipping is not
			r.log.WithError(err).Warn("sweep lease unavailable, sweeping anyway")
		} else if !ok {
			return res, false, nil
		} else {
			defer func() {
				if err := r.lease.ReleaseLock(context.WithoutCancel(ctx), leaseName, r.owner); err != nil {
					r.log.WithError(err).Warn("failed to release sweep lease")
				}
			}()
		}
	}

	res, err = r.sweeper.CancelExpiredBookings(ctx)
	return res, true, err
}
