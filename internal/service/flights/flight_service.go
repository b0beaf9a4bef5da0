package flights

import (
	"context"
	"net/url"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/sirupsen/logrus"
)

type FlightUseCase interface {
	Search(ctx context.Context, query url.Values) ([]domain.Flight, error)
}

type FlightSource interface {
	ListFlights(ctx context.Context, query url.Values) ([]domain.Flight, error)
}

type FlightCache interface {
	GetFlights(ctx context.Context, query string) ([]domain.Flight, error)
	SetFlights(ctx context.Context, query string, flights []domain.Flight) error
}

// FlightService proxies flight search to the inventory service. Results are
// cached per normalised query string; a cache outage only costs a remote call.
type FlightService struct {
	source FlightSource
	cache  FlightCache
	log    *logrus.Entry
}

func NewFlightService(source FlightSource, cache FlightCache, log *logrus.Entry) *FlightService {
	return &FlightService{source: source, cache: cache, log: log}
}

func (s *FlightService) Search(ctx context.Context, query url.Values) ([]domain.Flight, error) {
	// Encode sorts by key, so equal filters share one cache entry.
	key := query.Encode()

	if s.cache != nil {
		cached, err := s.cache.GetFlights(ctx, key)
		if err != nil {
			s.log.WithError(err).Warn("flight cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	flights, err := s.source.ListFlights(ctx, query)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetFlights(ctx, key, flights); err != nil {
			s.log.WithError(err).Warn("flight cache write failed")
		}
	}
	return flights, nil
}

var _ FlightUseCase = (*FlightService)(nil)
