package redis

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromRedis(rdb), s
}

func TestUSDPriceCacheRoundTripAndExpiry(t *testing.T) {
	c, s := newTestClient(t)
	ctx := context.Background()
	cache := NewUSDPriceCache(c)

	_, err := cache.Get(ctx, "0xabc-19791")
	require.ErrorIs(t, err, domain.ErrNotFound)

	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	want := domain.USDPrice{Currency: "0xabc", Timestamp: day, Value: big.NewInt(3_912_450_000)}
	require.NoError(t, cache.Set(ctx, "0xabc-19791", want, time.Hour))

	got, err := cache.Get(ctx, "0xabc-19791")
	require.NoError(t, err)
	require.Equal(t, want.Currency, got.Currency)
	require.True(t, want.Timestamp.Equal(got.Timestamp))
	require.Zero(t, want.Value.Cmp(got.Value))

	s.FastForward(2 * time.Hour)
	_, err = cache.Get(ctx, "0xabc-19791")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSourceCache(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	cache := NewSourceCache(c)

	_, err := cache.GetSources(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	sources := []domain.Source{{ID: 1, Domain: "nftx.io", DomainHash: "0x1a2b3c4d", Name: "nftx.io"}}
	require.NoError(t, cache.SetSources(ctx, sources, 24*time.Hour))

	got, err := cache.GetSources(ctx)
	require.NoError(t, err)
	require.Equal(t, sources, got)
}

func TestRoyaltyCacheComputesOnce(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	cache := NewRoyaltyCache(c)

	calls := 0
	compute := func(context.Context) ([]domain.Royalty, error) {
		calls++
		return []domain.Royalty{{Recipient: "0xbeef", Bps: 500}}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := cache.GetOrCompute(ctx, "contract:0xabc:default", time.Minute, compute)
		require.NoError(t, err)
		require.Equal(t, []domain.Royalty{{Recipient: "0xbeef", Bps: 500}}, got)
	}
	require.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err := cache.GetOrCompute(ctx, "contract:0xdef:default", time.Minute, func(context.Context) ([]domain.Royalty, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "coingecko", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "coingecko", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "coingecko", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	bus := NewSignalBus(c, 0)

	msgs, err := bus.StreamRead(ctx, "pool-events", "0", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "pool-events", []byte(`{"pool":"0x1"}`)))
	require.NoError(t, bus.StreamAppend(ctx, "pool-events", []byte(`{"pool":"0x2"}`)))

	msgs, err = bus.StreamRead(ctx, "pool-events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, `{"pool":"0x1"}`, string(msgs[0].Payload))

	msgs, err = bus.StreamRead(ctx, "pool-events", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, `{"pool":"0x2"}`, string(msgs[0].Payload))
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c, 0)

	ch, err := bus.Subscribe(ctx, "orders")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "orders", []byte("hello")))

	select {
	case got := <-ch:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range ch {
	}
}

func TestJobStreamConsumerGroup(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	js := NewJobStream(c, 0)
	const stream, group = "jobs:test", "workers"

	require.NoError(t, js.EnsureGroup(ctx, stream, group))
	require.NoError(t, js.EnsureGroup(ctx, stream, group))

	ok, err := js.Claim(ctx, "reprice-0xa-0xtx", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = js.Claim(ctx, "reprice-0xa-0xtx", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	id, err := js.Append(ctx, stream, []byte(`{"id":"0xa"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := js.ReadGroup(ctx, stream, group, "c1", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Delivered but unacked entries come back through the pending read.
	pending, err := js.ReadGroup(ctx, stream, group, "c1", true, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, msgs[0].ID, pending[0].ID)

	require.NoError(t, js.Ack(ctx, stream, group, msgs[0].ID))
	pending, err = js.ReadGroup(ctx, stream, group, "c1", true, 10, 0)
	require.NoError(t, err)
	require.Empty(t, pending)

	n, err := js.Len(ctx, stream)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
