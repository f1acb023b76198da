package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// Producer implements domain.TaskQueue.
type Producer struct {
	streams  Streams
	dedupTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

var _ domain.TaskQueue = (*Producer)(nil)

// NewProducer creates a Producer. Keys passed through EnqueueOptions are
// remembered for dedupTTL.
func NewProducer(streams Streams, dedupTTL time.Duration, logger *slog.Logger) *Producer {
	return &Producer{
		streams:  streams,
		dedupTTL: dedupTTL,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "queue_producer")),
	}
}

// Enqueue appends payload as a jobName job. A repeated key within the dedup
// window is dropped silently.
func (p *Producer) Enqueue(ctx context.Context, jobName string, payload any, opts domain.EnqueueOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: encode %s payload: %w", jobName, err)
	}

	if opts.Key != "" {
		fresh, err := p.streams.Claim(ctx, jobName+":"+opts.Key, p.dedupTTL)
		if err != nil {
			return fmt.Errorf("queue: dedup %s: %w", jobName, err)
		}
		if !fresh {
			p.logger.Debug("queue_producer: duplicate job dropped",
				slog.String("job", jobName), slog.String("key", opts.Key))
			return nil
		}
	}

	env, err := json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Job:        jobName,
		Key:        opts.Key,
		Payload:    body,
		EnqueuedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue: encode %s envelope: %w", jobName, err)
	}

	if _, err := p.streams.Append(ctx, StreamFor(jobName), env); err != nil {
		if opts.Key != "" {
			if rerr := p.streams.Release(ctx, jobName+":"+opts.Key); rerr != nil {
				p.logger.Warn("queue_producer: release dedup key failed",
					slog.String("key", opts.Key), slog.String("error", rerr.Error()))
			}
		}
		return fmt.Errorf("queue: enqueue %s: %w", jobName, err)
	}
	return nil
}
