package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/sirupsen/logrus"
)

const serviceName = "inventory"

// SeatInventory is the booking side's view of the flight service.
type SeatInventory interface {
	GetFlight(ctx context.Context, flightID int64) (*domain.Flight, error)
	// Reserve decrements advertised capacity. A business rejection is
	// domain.ErrSeatsUnavailable, an outage is domain.UpstreamError.
	Reserve(ctx context.Context, flightID int64, seats int) error
	Release(ctx context.Context, flightID int64, seats int) error
	ListFlights(ctx context.Context, query url.Values) ([]domain.Flight, error)
}

// Client speaks the flight service's JSON API. Every response body is wrapped
// as {"data": ...}; errors carry {"message": ...}.
type Client struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type flightDTO struct {
	ID                 int64     `json:"id"`
	FlightNumber       string    `json:"flightNumber"`
	DepartureAirportID string    `json:"departureAirportId"`
	ArrivalAirportID   string    `json:"arrivalAirportId"`
	DepartureTime      time.Time `json:"departureTime"`
	ArrivalTime        time.Time `json:"arrivalTime"`
	Price              int64     `json:"price"`
	TotalSeats         int       `json:"totalSeats"`
}

func (f flightDTO) toDomain() domain.Flight {
	return domain.Flight{
		ID:             f.ID,
		FlightNumber:   f.FlightNumber,
		FromAirport:    f.DepartureAirportID,
		ToAirport:      f.ArrivalAirportID,
		DepartureTime:  f.DepartureTime,
		ArrivalTime:    f.ArrivalTime,
		AvailableSeats: f.TotalSeats,
		Price:          f.Price,
	}
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type seatsRequest struct {
	Seats int  `json:"seats"`
	Dec   bool `json:"dec"`
}

func (c *Client) GetFlight(ctx context.Context, flightID int64) (*domain.Flight, error) {
	var dto flightDTO
	status, msg, err := c.do(ctx, http.MethodGet, c.flightPath(flightID), nil, &dto)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return nil, domain.NotFoundError{Resource: "flight", ID: strconv.FormatInt(flightID, 10)}
	case status >= 300:
		return nil, c.unexpected(status, msg)
	}
	f := dto.toDomain()
	return &f, nil
}

func (c *Client) Reserve(ctx context.Context, flightID int64, seats int) error {
	return c.patchSeats(ctx, flightID, seatsRequest{Seats: seats, Dec: true})
}

func (c *Client) Release(ctx context.Context, flightID int64, seats int) error {
	return c.patchSeats(ctx, flightID, seatsRequest{Seats: seats, Dec: false})
}

func (c *Client) patchSeats(ctx context.Context, flightID int64, req seatsRequest) error {
	status, msg, err := c.do(ctx, http.MethodPatch, c.flightPath(flightID)+"/seats", req, nil)
	if err != nil {
		return err
	}
	switch {
	case status < 300:
		return nil
	case status == http.StatusNotFound:
		return domain.NotFoundError{Resource: "flight", ID: strconv.FormatInt(flightID, 10)}
	case req.Dec && (status == http.StatusBadRequest || status == http.StatusConflict || status == http.StatusUnprocessableEntity):
		c.log.WithFields(logrus.Fields{"flight_id": flightID, "seats": req.Seats, "reason": msg}).Info("seat reservation rejected")
		return domain.ErrSeatsUnavailable
	default:
		return c.unexpected(status, msg)
	}
}

func (c *Client) ListFlights(ctx context.Context, query url.Values) ([]domain.Flight, error) {
	path := "/flights"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var dtos []flightDTO
	status, msg, err := c.do(ctx, http.MethodGet, path, nil, &dtos)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusBadRequest:
		return nil, domain.ValidationError{Field: "query", Msg: msg}
	case status >= 300:
		return nil, c.unexpected(status, msg)
	}

	flights := make([]domain.Flight, 0, len(dtos))
	for _, d := range dtos {
		flights = append(flights, d.toDomain())
	}
	return flights, nil
}

func (c *Client) flightPath(flightID int64) string {
	return "/flights/" + strconv.FormatInt(flightID, 10)
}

// do performs one request. Transport failures and timeouts come back as
// domain.UpstreamError; any HTTP status is returned for the caller to map.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, string, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, "", fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", domain.UpstreamError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", domain.UpstreamError{Service: serviceName, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 300 {
				return resp.StatusCode, strings.TrimSpace(string(raw)), nil
			}
			return 0, "", domain.UpstreamError{Service: serviceName, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	if resp.StatusCode < 300 && out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return 0, "", domain.UpstreamError{Service: serviceName, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return resp.StatusCode, env.Message, nil
}

func (c *Client) unexpected(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return domain.UpstreamError{Service: serviceName, Err: fmt.Errorf("status %d: %s", status, msg)}
}

var _ SeatInventory = (*Client)(nil)
