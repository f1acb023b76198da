package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/metrics"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Stream           string
	Group            string
	Consumer         string
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DeadLetterStream string
	BatchSize        int
	Block            time.Duration
}

// Worker consumes one job stream through a consumer group.
type Worker struct {
	streams Streams
	handler Handler
	archive domain.DeadLetterArchive
	cfg     WorkerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewWorker creates a Worker. archive may be nil.
func NewWorker(streams Streams, handler Handler, archive domain.DeadLetterArchive, cfg WorkerConfig, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	return &Worker{
		streams: streams,
		handler: handler,
		archive: archive,
		cfg:     cfg,
		metrics: m,
		logger: logger.With(
			slog.String("component", "queue_worker"),
			slog.String("stream", cfg.Stream),
		),
	}
}

// Run blocks until ctx is cancelled. Entries left pending by a previous run
// of this consumer are processed first.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.streams.EnsureGroup(ctx, w.cfg.Stream, w.cfg.Group); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	w.logger.Info("queue_worker: started",
		slog.String("group", w.cfg.Group), slog.String("consumer", w.cfg.Consumer))

	pending := true
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := w.Poll(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("queue_worker: read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if pending && n < w.cfg.BatchSize {
			pending = false
		}
	}
}

// Poll reads and processes one batch and returns its size.
func (w *Worker) Poll(ctx context.Context, pending bool) (int, error) {
	msgs, err := w.streams.ReadGroup(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, pending, w.cfg.BatchSize, w.cfg.Block)
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		w.process(ctx, msg)
	}
	return len(msgs), nil
}

func (w *Worker) process(ctx context.Context, msg domain.StreamMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		w.deadLetter(ctx, msg, Envelope{ID: msg.ID}, 0, fmt.Errorf("decode envelope: %w", err))
		return
	}
	log := w.logger.With(slog.String("job", env.Job), slog.String("job_id", env.ID))

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, w.handler(ctx, env.Payload)
	},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     w.cfg.InitialBackoff,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         w.cfg.MaxBackoff,
		}),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.metrics.QueueJob(env.Job, "retry")
			log.Warn("queue_worker: job failed, retrying",
				slog.Int("attempt", attempts),
				slog.Duration("next", next),
				slog.String("error", err.Error()),
			)
		}),
	)

	switch {
	case err == nil:
		w.metrics.QueueJob(env.Job, "ok")
		w.ack(ctx, msg.ID)
	case ctx.Err() != nil:
		// Left pending; redelivered on the next start.
	default:
		w.deadLetter(ctx, msg, env, attempts, err)
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.StreamMessage, env Envelope, attempts int, cause error) {
	w.metrics.QueueJob(env.Job, "dead")
	w.logger.Error("queue_worker: job dead-lettered",
		slog.String("job", env.Job),
		slog.String("job_id", env.ID),
		slog.String("key", env.Key),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	)

	letter := domain.DeadLetter{
		ID:       env.ID,
		Job:      env.Job,
		Key:      env.Key,
		Payload:  msg.Payload,
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}

	if w.cfg.DeadLetterStream != "" {
		data, err := json.Marshal(letter)
		if err == nil {
			_, err = w.streams.Append(ctx, w.cfg.DeadLetterStream, data)
		}
		if err != nil {
			// Leave the entry pending.
			w.logger.Error("queue_worker: dead-letter append failed", slog.String("error", err.Error()))
			return
		}
	}

	if w.archive != nil {
		if key, err := w.archive.Archive(ctx, []domain.DeadLetter{letter}); err != nil {
			w.logger.Warn("queue_worker: dead-letter archive failed", slog.String("error", err.Error()))
		} else {
			w.logger.Info("queue_worker: dead letter archived", slog.String("object", key))
		}
	}
	w.ack(ctx, msg.ID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.streams.Ack(ctx, w.cfg.Stream, w.cfg.Group, id); err != nil {
		w.logger.Error("queue_worker: ack failed", slog.String("entry_id", id), slog.String("error", err.Error()))
	}
}
