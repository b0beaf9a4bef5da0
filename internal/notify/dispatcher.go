package notify

import (
	"context"
	"sync"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/sirupsen/logrus"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// RetryPublisher is a Publisher with its own backoff between attempts.
type RetryPublisher interface {
	Publisher
	PublishWithRetry(ctx context.Context, topic, key string, payload any, maxRetries int) error
}

// Notifier accepts fire-and-forget messages. Callers invoke it only after
// the state change being announced has committed.
type Notifier interface {
	Notify(ctx context.Context, key string, n domain.Notification)
	Emit(ctx context.Context, ev domain.BookingEvent)
}

// Dispatcher publishes in the background. A publish failure is logged and
// never reaches the caller.
type Dispatcher struct {
	publisher          Publisher
	notificationsTopic string
	eventsTopic        string
	timeout            time.Duration
	retries            int
	log                *logrus.Entry
	wg                 sync.WaitGroup
}

type Option func(*Dispatcher)

// WithEventsTopic enables booking lifecycle events.
func WithEventsTopic(topic string) Option {
	return func(d *Dispatcher) { d.eventsTopic = topic }
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithRetries makes each publish try up to n times when the publisher
// supports retries.
func WithRetries(n int) Option {
	return func(d *Dispatcher) { d.retries = n }
}

func NewDispatcher(publisher Publisher, notificationsTopic string, log *logrus.Entry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher:          publisher,
		notificationsTopic: notificationsTopic,
		timeout:            10 * time.Second,
		log:                log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Notify(ctx context.Context, key string, n domain.Notification) {
	if n.Recipient == "" {
		d.log.WithField("key", key).Debug("notification without recipient dropped")
		return
	}
	d.dispatch(ctx, d.notificationsTopic, key, n)
}

func (d *Dispatcher) Emit(ctx context.Context, ev domain.BookingEvent) {
	if d.eventsTopic == "" {
		return
	}
	d.dispatch(ctx, d.eventsTopic, ev.BookingID, ev)
}

func (d *Dispatcher) dispatch(ctx context.Context, topic, key string, payload any) {
	// detached from the request so a finished HTTP call does not abort delivery
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		if err := d.publish(ctx, topic, key, payload); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{"topic": topic, "key": key}).Warn("notification publish failed")
		}
	}()
}

func (d *Dispatcher) publish(ctx context.Context, topic, key string, payload any) error {
	if rp, ok := d.publisher.(RetryPublisher); ok && d.retries > 1 {
		return rp.PublishWithRetry(ctx, topic, key, payload, d.retries)
	}
	return d.publisher.Publish(ctx, topic, key, payload)
}

// Wait blocks until every in-flight publish has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

var _ Notifier = (*Dispatcher)(nil)
