package domain

import (
	"context"
	"time"
)

// USDPriceCache is the oracle's shared second tier.
type USDPriceCache interface {
	Get(ctx context.Context, key string) (USDPrice, error)
	Set(ctx context.Context, key string, p USDPrice, ttl time.Duration) error
}

// SourceCache stores the source registry snapshot.
type SourceCache interface {
	GetSources(ctx context.Context) ([]Source, error)
	SetSources(ctx context.Context, sources []Source, ttl time.Duration) error
}

// RoyaltyCache memoizes default royalty schedules.
type RoyaltyCache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]Royalty, error)) ([]Royalty, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// EnqueueOptions tune a single enqueue call.
type EnqueueOptions struct {
	// Key deduplicates enqueues; empty disables deduplication.
	Key string
}

// TaskQueue is the notification sink for order-state changes.
type TaskQueue interface {
	Enqueue(ctx context.Context, jobName string, payload any, opts EnqueueOptions) error
}
