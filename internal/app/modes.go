package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/queue"
	"github.com/alanyoungcy/nftbook/internal/router"
	"github.com/alanyoungcy/nftbook/internal/server"
	"github.com/alanyoungcy/nftbook/internal/server/handler"
	"github.com/alanyoungcy/nftbook/internal/server/ws"
	"github.com/alanyoungcy/nftbook/internal/service"
)

const (
	deriveGroup     = "derive"
	shutdownTimeout = 10 * time.Second
)

// DeriveMode consumes pool events and persists the derived orders.
func (a *App) DeriveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting derive mode")
	return a.runDeriver(ctx, deps)
}

// WorkerMode consumes order update jobs.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	return a.newWorker(deps).Run(ctx)
}

// ServerMode serves the HTTP API and the websocket feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs derivation, the job worker and the HTTP server together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runDeriver(ctx, deps)
	})
	g.Go(func() error {
		return a.newWorker(deps).Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// QuoteMode builds one path from a JSON request and prints the result.
func (a *App) QuoteMode(ctx context.Context, deps *Dependencies) error {
	var in io.Reader = os.Stdin
	if a.quotePath != "" {
		f, err := os.Open(a.quotePath)
		if err != nil {
			return fmt.Errorf("app: open quote request: %w", err)
		}
		defer f.Close()
		in = f
	}

	var req router.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("app: decode quote request: %w", err)
	}

	res, err := deps.Builder.Build(ctx, req)
	if err != nil {
		return fmt.Errorf("app: build path: %w", err)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func (a *App) newWorker(deps *Dependencies) *queue.Worker {
	updates := service.NewOrderUpdateHandler(deps.OrderStore, deps.SignalBus, deps.Notifier, a.logger)
	q := a.cfg.Queue
	return queue.NewWorker(deps.JobStream, updates.Handle, deps.Archive, queue.WorkerConfig{
		Stream:           q.Stream,
		Group:            q.Group,
		Consumer:         q.Consumer,
		MaxAttempts:      q.MaxAttempts,
		InitialBackoff:   q.InitialBackoff.Duration,
		MaxBackoff:       q.MaxBackoff.Duration,
		DeadLetterStream: q.DeadLetterStream,
		BatchSize:        q.BatchSize,
		Block:            q.Block.Duration,
	}, deps.Metrics, a.logger)
}

// runDeriver reads pool events through a consumer group and acks entries
// only after their batch was applied. Concurrent derivers need no lock: the
// gateway's timestamp guard decides which write wins.
func (a *App) runDeriver(ctx context.Context, deps *Dependencies) error {
	ob := a.cfg.Orderbook
	stream := ob.EventStream
	logger := a.logger.With(slog.String("stream", stream))

	if err := deps.JobStream.EnsureGroup(ctx, stream, deriveGroup); err != nil {
		return fmt.Errorf("app: derive group: %w", err)
	}

	pending := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := deps.JobStream.ReadGroup(ctx, stream, deriveGroup, a.cfg.Queue.Consumer, pending, ob.EventBatchSize, ob.PollInterval.Duration)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("derive: read failed", slog.String("error", err.Error()))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if pending && len(msgs) < ob.EventBatchSize {
			pending = false
		}
		if len(msgs) == 0 {
			continue
		}

		events, ids := decodeEvents(msgs, logger)
		results, err := deps.Deriver.DeriveBatch(ctx, events)
		if err != nil {
			logger.Error("derive: batch failed",
				slog.Int("events", len(events)),
				slog.Int("applied", len(results)),
				slog.String("error", err.Error()),
			)
			// Unacked entries are retried from the pending list.
			pending = true
			continue
		}
		logger.Debug("derive: batch applied",
			slog.Int("events", len(events)),
			slog.Int("applied", len(results)),
		)

		if err := deps.JobStream.Ack(ctx, stream, deriveGroup, ids...); err != nil {
			logger.Warn("derive: ack failed", slog.String("error", err.Error()))
		}
	}
}

// decodeEvents returns the parsed events and the ids of every message.
// Malformed entries are logged and acked with the rest.
func decodeEvents(msgs []domain.StreamMessage, logger *slog.Logger) ([]domain.PoolEvent, []string) {
	events := make([]domain.PoolEvent, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
		var ev domain.PoolEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.Pool == "" {
			logger.Warn("derive: dropping malformed event", slog.String("id", msg.ID))
			continue
		}
		events = append(events, ev)
	}
	return events, ids
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.WSChannels, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(deps.Pingers, a.cfg.Mode, a.logger),
			Execute: handler.NewExecuteHandler(deps.Builder, a.cfg.Router.HTTPTimeout.Duration, a.logger),
			Prices:  handler.NewPriceHandler(deps.Oracle, a.logger),
			Sources: handler.NewSourceHandler(deps.Sources),
		},
		hub,
		deps.RateLimiter,
		deps.Registry,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
