package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const serviceName = "payment gateway"

// ChargeRequest describes one charge. Amount is in minor currency units.
// IdempotencyKey goes to the gateway verbatim; a reuse must repeat every
// other field exactly.
type ChargeRequest struct {
	CustomerID     string
	SourceID       string
	Amount         int64
	Currency       string
	Description    string
	ReceiptEmail   string
	IdempotencyKey string
}

type Gateway interface {
	CreateCustomer(ctx context.Context, payer domain.Payer) (string, error)
	// TokenizeCard turns raw card details into a reusable source attached to
	// the customer and returns the source id.
	TokenizeCard(ctx context.Context, customerID string, card domain.CardDetails) (string, error)
	Charge(ctx context.Context, req ChargeRequest) (*domain.ChargeResult, error)
	Refund(ctx context.Context, chargeID string) error
}

type StripeGateway struct {
	api *client.API
	log *logrus.Entry
}

type Option func(*stripe.BackendConfig)

// WithBaseURL points the gateway at a different API host, e.g. stripe-mock.
func WithBaseURL(url string) Option {
	return func(c *stripe.BackendConfig) { c.URL = stripe.String(url) }
}

func WithMaxNetworkRetries(n int64) Option {
	return func(c *stripe.BackendConfig) { c.MaxNetworkRetries = stripe.Int64(n) }
}

func NewStripeGateway(cfg config.PaymentConfig, log *logrus.Entry, opts ...Option) *StripeGateway {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:    &http.Client{Timeout: cfg.Timeout},
		LeveledLogger: log,
	}
	for _, opt := range opts {
		opt(backendCfg)
	}

	return &StripeGateway{
		api: client.New(cfg.SecretKey, stripe.NewBackendsWithConfig(backendCfg)),
		log: log,
	}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, payer domain.Payer) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(payer.Name),
		Email: stripe.String(payer.Email),
	}
	params.Context = ctx

	cus, err := g.api.Customers.New(params)
	if err != nil {
		return "", classify("create customer", err)
	}
	return cus.ID, nil
}

func (g *StripeGateway) TokenizeCard(ctx context.Context, customerID string, card domain.CardDetails) (string, error) {
	tokenParams := &stripe.TokenParams{
		Card: &stripe.CardParams{
			Number:   stripe.String(card.Number),
			ExpMonth: stripe.String(card.ExpMonth),
			ExpYear:  stripe.String(card.ExpYear),
			CVC:      stripe.String(card.CVC),
		},
	}
	tokenParams.Context = ctx

	tok, err := g.api.Tokens.New(tokenParams)
	if err != nil {
		return "", classify("tokenize card", err)
	}

	source, err := stripe.SourceParamsFor(tok.ID)
	if err != nil {
		return "", domain.InternalError{Msg: "build card source", Err: err}
	}
	sourceParams := &stripe.PaymentSourceParams{
		Customer: stripe.String(customerID),
		Source:   source,
	}
	sourceParams.Context = ctx

	src, err := g.api.PaymentSources.New(sourceParams)
	if err != nil {
		return "", classify("attach card", err)
	}
	return src.ID, nil
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*domain.ChargeResult, error) {
	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Customer:    stripe.String(req.CustomerID),
		Description: stripe.String(req.Description),
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	if err := params.SetSource(req.SourceID); err != nil {
		return nil, domain.InternalError{Msg: "build charge source", Err: err}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	ch, err := g.api.Charges.New(params)
	if err != nil {
		return nil, classify("create charge", err)
	}
	if !ch.Paid {
		return nil, domain.CardDeclinedError{Reason: ch.FailureMessage, Code: ch.FailureCode}
	}

	g.log.WithFields(logrus.Fields{"charge_id": ch.ID, "amount": req.Amount, "currency": req.Currency}).Info("charge captured")
	return &domain.ChargeResult{ChargeID: ch.ID, ReceiptURL: ch.ReceiptURL}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, chargeID string) error {
	params := &stripe.RefundParams{Charge: stripe.String(chargeID)}
	params.SetIdempotencyKey("refund-" + chargeID)
	params.Context = ctx

	if _, err := g.api.Refunds.New(params); err != nil {
		return classify("refund charge", err)
	}
	g.log.WithField("charge_id", chargeID).Warn("charge refunded")
	return nil
}

// classify maps gateway failures onto the domain taxonomy. Card problems are
// deterministic declines and outages or throttling are retryable upstream
// errors. A key replayed with other parameters is a conflict.
func classify(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return domain.UpstreamError{Service: serviceName, Err: fmt.Errorf("%s: %w", op, err)}
	}

	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		code := string(stripeErr.DeclineCode)
		if code == "" {
			code = string(stripeErr.Code)
		}
		return domain.CardDeclinedError{Reason: stripeErr.Msg, Code: code}
	case stripeErr.Type == stripe.ErrorTypeIdempotency:
		return fmt.Errorf("%s: %s: %w", op, stripeErr.Msg, domain.ErrPaymentKeyReused)
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return domain.UpstreamError{Service: serviceName, Err: fmt.Errorf("%s: %s", op, stripeErr.Msg)}
	default:
		return domain.InternalError{Msg: fmt.Sprintf("%s: %s", op, stripeErr.Msg), Err: err}
	}
}

var _ Gateway = (*StripeGateway)(nil)
