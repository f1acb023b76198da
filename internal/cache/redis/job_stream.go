package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// JobStream is the Redis side of the task queue: a stream per job family
// consumed through a consumer group, plus SET NX keys for enqueue
// deduplication.
type JobStream struct {
	rdb    *redis.Client
	maxLen int64
}

// NewJobStream creates a JobStream. maxLen <= 0 selects the default cap.
func NewJobStream(c *Client, maxLen int) *JobStream {
	ml := int64(maxLen)
	if ml <= 0 {
		ml = defaultStreamMaxLen
	}
	return &JobStream{rdb: c.Underlying(), maxLen: ml}
}

func dedupKey(key string) string {
	return "jobdedup:" + key
}

// Claim marks key as enqueued for ttl. It reports false when the key was
// already claimed.
func (js *JobStream) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := js.rdb.SetNX(ctx, dedupKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim job key %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim so the key can be enqueued again.
func (js *JobStream) Release(ctx context.Context, key string) error {
	if err := js.rdb.Del(ctx, dedupKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: release job key %s: %w", key, err)
	}
	return nil
}

// Append adds payload to stream and returns the entry id.
func (js *JobStream) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := js.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: js.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: append job %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (js *JobStream) EnsureGroup(ctx context.Context, stream, group string) error {
	err := js.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s/%s: %w", stream, group, err)
	}
	return nil
}

// ReadGroup reads entries for consumer. With pending set it returns entries
// already delivered to this consumer but never acked (start-up recovery);
// otherwise it waits up to block for new entries.
func (js *JobStream) ReadGroup(
	ctx context.Context,
	stream, group, consumer string,
	pending bool,
	count int,
	block time.Duration,
) ([]domain.StreamMessage, error) {
	start := ">"
	if pending {
		start = "0"
		block = -1
	}
	if block == 0 {
		block = -1
	}

	results, err := js.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, start},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read group %s/%s: %w", stream, group, err)
	}

	var out []domain.StreamMessage
	for _, s := range results {
		out = appendPayloads(out, s.Messages)
	}
	return out, nil
}

// Ack acknowledges processed entries.
func (js *JobStream) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := js.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s/%s: %w", stream, group, err)
	}
	return nil
}

// Len returns the number of entries in stream.
func (js *JobStream) Len(ctx context.Context, stream string) (int64, error) {
	n, err := js.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: stream length %s: %w", stream, err)
	}
	return n, nil
}
