package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/v1", time.Second)
}

func TestClient_GetFlight(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/flights/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"id":7,"flightNumber":"AI-101","departureAirportId":"DEL","arrivalAirportId":"BOM","departureTime":"2024-05-01T10:00:00Z","arrivalTime":"2024-05-01T12:00:00Z","price":100,"totalSeats":42}}`))
	})

	f, err := c.GetFlight(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), f.ID)
	assert.Equal(t, "AI-101", f.FlightNumber)
	assert.Equal(t, "DEL", f.FromAirport)
	assert.Equal(t, "BOM", f.ToAirport)
	assert.Equal(t, int64(100), f.Price)
	assert.Equal(t, 42, f.AvailableSeats)
}

func TestClient_GetFlight_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"flight not found"}`))
	})

	_, err := c.GetFlight(context.Background(), 1)
	assert.True(t, domain.IsNotFound(err))
}

func TestClient_Reserve(t *testing.T) {
	var got seatsRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/flights/3/seats", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	require.NoError(t, c.Reserve(context.Background(), 3, 2))
	assert.Equal(t, seatsRequest{Seats: 2, Dec: true}, got)

	require.NoError(t, c.Release(context.Background(), 3, 2))
	assert.Equal(t, seatsRequest{Seats: 2, Dec: false}, got)
}

func TestClient_Reserve_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"not enough seats"}`))
	})

	err := c.Reserve(context.Background(), 3, 200)
	assert.True(t, errors.Is(err, domain.ErrSeatsUnavailable))

	// the same status on release is not a seat rejection
	err = c.Release(context.Background(), 3, 200)
	assert.True(t, domain.IsUpstream(err))
}

func TestClient_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`upstream down`))
	})

	err := c.Reserve(context.Background(), 3, 1)
	assert.True(t, domain.IsUpstream(err))
	assert.Contains(t, err.Error(), "status 503")
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, 20*time.Millisecond)

	_, err := c.GetFlight(context.Background(), 1)
	assert.True(t, domain.IsUpstream(err))
}

func TestClient_ListFlights(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/flights", r.URL.Path)
		assert.Equal(t, "DEL-BOM", r.URL.Query().Get("trips"))
		_, _ = w.Write([]byte(`{"data":[{"id":1,"price":10,"totalSeats":5},{"id":2,"price":20,"totalSeats":0}]}`))
	})

	flights, err := c.ListFlights(context.Background(), url.Values{"trips": {"DEL-BOM"}})
	require.NoError(t, err)
	require.Len(t, flights, 2)
	assert.Equal(t, int64(2), flights[1].ID)
	assert.Equal(t, int64(20), flights[1].Price)
}

func TestClient_ListFlights_BadQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid trips"}`))
	})

	_, err := c.ListFlights(context.Background(), url.Values{"trips": {"x"}})
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "invalid trips")
}
