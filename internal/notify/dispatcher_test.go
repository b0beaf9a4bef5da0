package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/logger"
	"github.com/stretchr/testify/mock"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	args := m.Called(ctx, topic, key, payload)
	return args.Error(0)
}

func TestDispatcher_Notify(t *testing.T) {
	pub := &MockPublisher{}
	d := NewDispatcher(pub, "notifications", logger.Discard())

	n := domain.Notification{Recipient: "a@example.com", Subject: "Booking confirmed", Body: "ok"}
	pub.On("Publish", mock.Anything, "notifications", "b1", n).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, "b1", n)
	cancel() // the caller's context ending must not abort delivery
	d.Wait()

	pub.AssertExpectations(t)
}

func TestDispatcher_NotifyFailureIsSwallowed(t *testing.T) {
	pub := &MockPublisher{}
	d := NewDispatcher(pub, "notifications", logger.Discard())

	pub.On("Publish", mock.Anything, "notifications", "b1", mock.Anything).Return(errors.New("broker down")).Once()

	d.Notify(context.Background(), "b1", domain.Notification{Recipient: "a@example.com"})
	d.Wait()

	pub.AssertExpectations(t)
}

func TestDispatcher_SkipsEmptyRecipient(t *testing.T) {
	pub := &MockPublisher{}
	d := NewDispatcher(pub, "notifications", logger.Discard())

	d.Notify(context.Background(), "b1", domain.Notification{Subject: "x"})
	d.Wait()

	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_Emit(t *testing.T) {
	pub := &MockPublisher{}
	b := &domain.Booking{ID: "b1", FlightID: 7, Status: domain.BookingStatusBooked}
	ev := domain.NewBookingEvent(domain.EventBookingConfirmed, b, time.Unix(0, 0))

	disabled := NewDispatcher(pub, "notifications", logger.Discard())
	disabled.Emit(context.Background(), ev)
	disabled.Wait()
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	pub.On("Publish", mock.Anything, "booking-events", "b1", ev).Return(nil).Once()
	d := NewDispatcher(pub, "notifications", logger.Discard(), WithEventsTopic("booking-events"), WithTimeout(time.Second))
	d.Emit(context.Background(), ev)
	d.Wait()

	pub.AssertExpectations(t)
}

type MockRetryPublisher struct {
	MockPublisher
}

func (m *MockRetryPublisher) PublishWithRetry(ctx context.Context, topic, key string, payload any, maxRetries int) error {
	args := m.Called(ctx, topic, key, payload, maxRetries)
	return args.Error(0)
}

func TestDispatcher_UsesRetries(t *testing.T) {
	pub := &MockRetryPublisher{}
	d := NewDispatcher(pub, "notifications", logger.Discard(), WithRetries(3))

	n := domain.Notification{Recipient: "a@example.com"}
	pub.On("PublishWithRetry", mock.Anything, "notifications", "b1", n, 3).Return(nil).Once()

	d.Notify(context.Background(), "b1", n)
	d.Wait()

	pub.AssertExpectations(t)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
