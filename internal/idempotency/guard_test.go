package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisGuard(client, 2*time.Minute, 7*24*time.Hour), mr
}

func TestRedisGuard_FreshThenInProgress(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	owner, prior, err := g.Begin(ctx, "K1")
	require.NoError(t, err)
	assert.Nil(t, prior)
	assert.NotEmpty(t, owner)

	_, _, err = g.Begin(ctx, "K1")
	assert.True(t, errors.Is(err, domain.ErrPaymentInProgress))

	other, prior, err := g.Begin(ctx, "K2")
	require.NoError(t, err)
	assert.Nil(t, prior)
	assert.NotEqual(t, owner, other)
}

func TestRedisGuard_CompleteReturnsOutcome(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()

	owner, _, err := g.Begin(ctx, "K1")
	require.NoError(t, err)

	outcome := &domain.PaymentOutcome{
		BookingID:  "b1",
		ChargeID:   "ch_1",
		ReceiptURL: "https://pay/r/1",
		Amount:     20000,
		Currency:   "inr",
		CapturedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, g.Complete(ctx, "K1", outcome))

	replayOwner, prior, err := g.Begin(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, outcome, prior)
	assert.Empty(t, replayOwner)

	// release must not wipe a completed key
	require.NoError(t, g.Release(ctx, "K1", owner))
	assert.True(t, mr.Exists("idempotency:payment:K1"))
	assert.Equal(t, 7*24*time.Hour, mr.TTL("idempotency:payment:K1"))
}

func TestRedisGuard_ReleaseAllowsRetry(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	owner, _, err := g.Begin(ctx, "K1")
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, "K1", owner))

	_, prior, err := g.Begin(ctx, "K1")
	require.NoError(t, err)
	assert.Nil(t, prior)
}

func TestRedisGuard_PendingExpires(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()

	_, _, err := g.Begin(ctx, "K1")
	require.NoError(t, err)

	mr.FastForward(3 * time.Minute)

	owner, prior, err := g.Begin(ctx, "K1")
	require.NoError(t, err)
	assert.Nil(t, prior)
	assert.NotEmpty(t, owner)
}

func TestRedisGuard_LateReleaseKeepsNewerClaim(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()

	slow, _, err := g.Begin(ctx, "K1")
	require.NoError(t, err)

	// the slow attempt outlives its claim and a retry takes the key over
	mr.FastForward(3 * time.Minute)
	retry, _, err := g.Begin(ctx, "K1")
	require.NoError(t, err)

	require.NoError(t, g.Release(ctx, "K1", slow))
	_, _, err = g.Begin(ctx, "K1")
	assert.True(t, errors.Is(err, domain.ErrPaymentInProgress))

	require.NoError(t, g.Release(ctx, "K1", retry))
	assert.False(t, mr.Exists("idempotency:payment:K1"))
}

func TestRedisGuard_ConcurrentBeginHasOneWinner(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		owners   []string
		rejected int
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			owner, prior, err := g.Begin(ctx, "K1")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && prior == nil:
				owners = append(owners, owner)
			case errors.Is(err, domain.ErrPaymentInProgress):
				rejected++
			default:
				t.Errorf("unexpected result: prior=%v err=%v", prior, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, owners, 1)
	assert.Equal(t, callers-1, rejected)
}

func TestRedisGuard_StoreDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	g := NewRedisGuard(client, time.Minute, time.Hour)

	_, _, err := g.Begin(context.Background(), "K1")
	assert.True(t, domain.IsUpstream(err))
}
