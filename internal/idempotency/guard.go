// Package idempotency deduplicates payment attempts by client-supplied key.
//
// A key moves through two states in Redis. A pending marker naming the
// attempt that owns the key is set with SET NX for a short TTL while that
// attempt runs; a crashed attempt therefore frees the key on its own. A
// successful attempt overwrites it with the outcome JSON, retained for the
// configured period. A failed attempt deletes its own marker so the caller
// can retry with the same key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pendingPrefix = "pending:"

type Guard interface {
	// Begin claims key. It returns the stored outcome when an earlier attempt
	// with the key succeeded, an owner token when the caller now holds the
	// key, and domain.ErrPaymentInProgress while another attempt holds it.
	Begin(ctx context.Context, key string) (owner string, prior *domain.PaymentOutcome, err error)
	Complete(ctx context.Context, key string, outcome *domain.PaymentOutcome) error
	// Release frees key if owner still holds it. A completed key, or one
	// claimed by a later attempt after owner's claim expired, is left alone.
	Release(ctx context.Context, key, owner string) error
}

type RedisGuard struct {
	client     redis.UniversalClient
	pendingTTL time.Duration
	retention  time.Duration
}

func NewRedisGuard(client redis.UniversalClient, pendingTTL, retention time.Duration) *RedisGuard {
	return &RedisGuard{client: client, pendingTTL: pendingTTL, retention: retention}
}

func (g *RedisGuard) Begin(ctx context.Context, key string) (string, *domain.PaymentOutcome, error) {
	k := redisKey(key)
	owner := uuid.NewString()

	// a completed key can expire between SETNX and GET; one more round settles it
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.client.SetNX(ctx, k, pendingPrefix+owner, g.pendingTTL).Result()
		if err != nil {
			return "", nil, domain.UpstreamError{Service: "idempotency store", Err: err}
		}
		if ok {
			return owner, nil, nil
		}

		val, err := g.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", nil, domain.UpstreamError{Service: "idempotency store", Err: err}
		}
		if strings.HasPrefix(val, pendingPrefix) {
			return "", nil, domain.ErrPaymentInProgress
		}

		var outcome domain.PaymentOutcome
		if err := json.Unmarshal([]byte(val), &outcome); err != nil {
			return "", nil, domain.InternalError{Msg: "corrupt idempotency record", Err: err}
		}
		return "", &outcome, nil
	}
	return "", nil, domain.ErrPaymentInProgress
}

func (g *RedisGuard) Complete(ctx context.Context, key string, outcome *domain.PaymentOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := g.client.Set(ctx, redisKey(key), payload, g.retention).Err(); err != nil {
		return domain.UpstreamError{Service: "idempotency store", Err: err}
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (g *RedisGuard) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, g.client, []string{redisKey(key)}, pendingPrefix+owner).Err(); err != nil {
		return domain.UpstreamError{Service: "idempotency store", Err: err}
	}
	return nil
}

func redisKey(key string) string {
	return "idempotency:payment:" + key
}

var _ Guard = (*RedisGuard)(nil)
