package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/cache/redis"
	"github.com/alanyoungcy/nftbook/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStreams(t *testing.T) *redis.JobStream {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.NewJobStream(redis.NewFromRedis(rdb), 0)
}

func testConfig() WorkerConfig {
	return WorkerConfig{
		Stream:           StreamFor(domain.JobOrderUpdatesByID),
		Group:            "order-updates",
		Consumer:         "test-1",
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		DeadLetterStream: "jobs:dead-letter",
		BatchSize:        10,
		Block:            10 * time.Millisecond,
	}
}

type fakeArchive struct {
	mu      sync.Mutex
	letters []domain.DeadLetter
}

func (a *fakeArchive) Archive(_ context.Context, letters []domain.DeadLetter) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.letters = append(a.letters, letters...)
	return "dead-letters/test.jsonl", nil
}

func job(id string) domain.OrderUpdateJob {
	return domain.OrderUpdateJob{
		Context: "new-order-" + id + "-0xabc",
		ID:      id,
		Trigger: domain.OrderTrigger{Kind: domain.TriggerNewOrder, TxHash: "0xabc"},
	}
}

func TestEnqueueDeduplicatesByKey(t *testing.T) {
	streams := newStreams(t)
	ctx := context.Background()
	p := NewProducer(streams, time.Hour, discardLogger())

	j := job("0x01")
	require.NoError(t, p.Enqueue(ctx, domain.JobOrderUpdatesByID, j, domain.EnqueueOptions{Key: j.Context}))
	require.NoError(t, p.Enqueue(ctx, domain.JobOrderUpdatesByID, j, domain.EnqueueOptions{Key: j.Context}))
	require.NoError(t, p.Enqueue(ctx, domain.JobOrderUpdatesByID, job("0x02"), domain.EnqueueOptions{}))

	n, err := streams.Len(ctx, StreamFor(domain.JobOrderUpdatesByID))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestWorkerProcessesAndAcks(t *testing.T) {
	streams := newStreams(t)
	ctx := context.Background()
	p := NewProducer(streams, time.Hour, discardLogger())

	var got []domain.OrderUpdateJob
	handler := func(_ context.Context, payload []byte) error {
		var j domain.OrderUpdateJob
		require.NoError(t, json.Unmarshal(payload, &j))
		got = append(got, j)
		return nil
	}
	w := NewWorker(streams, handler, nil, testConfig(), nil, discardLogger())
	require.NoError(t, streams.EnsureGroup(ctx, testConfig().Stream, testConfig().Group))

	require.NoError(t, p.Enqueue(ctx, domain.JobOrderUpdatesByID, job("0x01"), domain.EnqueueOptions{Key: "k1"}))
	n, err := w.Poll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []domain.OrderUpdateJob{job("0x01")}, got)

	// Nothing is left pending once acked.
	n, err = w.Poll(ctx, true)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	streams := newStreams(t)
	ctx := context.Background()
	p := NewProducer(streams, time.Hour, discardLogger())

	calls := 0
	handler := func(context.Context, []byte) error {
		calls++
		if calls < 3 {
			return errors.New("db busy")
		}
		return nil
	}
	w := NewWorker(streams, handler, nil, testConfig(), nil, discardLogger())
	require.NoError(t, streams.EnsureGroup(ctx, testConfig().Stream, testConfig().Group))
	require.NoError(t, p.Enqueue(ctx, domain.JobOrderUpdatesByID, job("0x01"), domain.EnqueueOptions{}))

	_, err := w.Poll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	n, err := streams.Len(ctx, "jobs:dead-letter")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	streams := newStreams(t)
	ctx := context.Background()
	p := NewProducer(streams, time.Hour, discardLogger())
	archive := &fakeArchive{}

	calls := 0
	handler := func(context.Context, []byte) error {
		calls++
		return errors.New("always broken")
	}
	w := NewWorker(streams, handler, archive, testConfig(), nil, discardLogger())
	require.NoError(t, streams.EnsureGroup(ctx, testConfig().Stream, testConfig().Group))
	require.NoError(t, p.Enqueue(ctx, domain.JobOrderUpdatesByID, job("0x01"), domain.EnqueueOptions{Key: "k1"}))

	_, err := w.Poll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	n, err := streams.Len(ctx, "jobs:dead-letter")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.Len(t, archive.letters, 1)
	require.Equal(t, domain.JobOrderUpdatesByID, archive.letters[0].Job)
	require.Equal(t, "k1", archive.letters[0].Key)
	require.Equal(t, 3, archive.letters[0].Attempts)
	require.Equal(t, "always broken", archive.letters[0].Error)

	n2, err := w.Poll(ctx, true)
	require.NoError(t, err)
	require.Zero(t, n2)
}

func TestWorkerPermanentErrorSkipsRetries(t *testing.T) {
	streams := newStreams(t)
	ctx := context.Background()
	p := NewProducer(streams, time.Hour, discardLogger())

	calls := 0
	handler := func(context.Context, []byte) error {
		calls++
		return Permanent(errors.New("malformed"))
	}
	w := NewWorker(streams, handler, nil, testConfig(), nil, discardLogger())
	require.NoError(t, streams.EnsureGroup(ctx, testConfig().Stream, testConfig().Group))
	require.NoError(t, p.Enqueue(ctx, domain.JobOrderUpdatesByID, job("0x01"), domain.EnqueueOptions{}))

	_, err := w.Poll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	n, err := streams.Len(ctx, "jobs:dead-letter")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	streams := newStreams(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	handler := func(context.Context, []byte) error {
		close(done)
		return nil
	}
	w := NewWorker(streams, handler, nil, testConfig(), nil, discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	p := NewProducer(streams, time.Hour, discardLogger())
	require.Eventually(t, func() bool {
		return p.Enqueue(context.Background(), domain.JobOrderUpdatesByID, job("0x01"), domain.EnqueueOptions{Key: "once"}) == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	cancel()
	require.NoError(t, <-errCh)
}
