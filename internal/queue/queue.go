// Package queue is a typed task queue on Redis Streams with idempotent
// enqueue, bounded retries with exponential backoff, and a dead-letter path.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// Envelope is the stream entry wrapping a job payload.
type Envelope struct {
	ID         string          `json:"id"`
	Job        string          `json:"job"`
	Key        string          `json:"key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Streams is the Redis side of the queue.
type Streams interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Append(ctx context.Context, stream string, payload []byte) (string, error)
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, pending bool, count int, block time.Duration) ([]domain.StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// Handler processes one job payload. Returning an error wrapped with
// Permanent skips the remaining retries.
type Handler func(ctx context.Context, payload []byte) error

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// StreamFor returns the stream a job family is appended to.
func StreamFor(job string) string {
	return "jobs:" + job
}
