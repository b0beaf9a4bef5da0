package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/redis/go-redis/v9"
)

// NewClient opens the shared Redis client used by the cache and the
// idempotency guard.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

type RedisCache struct {
	client     redis.UniversalClient
	flightsTTL time.Duration
}

func NewRedisCache(client redis.UniversalClient, flightsTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:     client,
		flightsTTL: flightsTTL,
	}
}

// GetFlights returns the cached search result for query, or nil on a miss.
func (c *RedisCache) GetFlights(ctx context.Context, query string) ([]domain.Flight, error) {
	data, err := c.client.Get(ctx, flightsKey(query)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var flights []domain.Flight
	if err := json.Unmarshal(data, &flights); err != nil {
		return nil, err
	}
	return flights, nil
}

func (c *RedisCache) SetFlights(ctx context.Context, query string, flights []domain.Flight) error {
	payload, err := json.Marshal(flights)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, flightsKey(query), payload, c.flightsTTL).Err()
}

// AcquireLock takes name for ttl on behalf of owner. It reports false when
// someone else holds it.
func (c *RedisCache) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, lockKey(name), owner, ttl).Result()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseLock drops the lock only while owner still holds it.
func (c *RedisCache) ReleaseLock(ctx context.Context, name, owner string) error {
	return releaseScript.Run(ctx, c.client, []string{lockKey(name)}, owner).Err()
}

func flightsKey(query string) string {
	return "cache:flights:" + query
}

func lockKey(name string) string {
	return "lock:" + name
}
