package orderbook

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/metrics"
)

// Deriver turns one pool event into order records.
type Deriver interface {
	Kind() domain.OrderKind
	Derive(ctx context.Context, ev domain.PoolEvent) ([]domain.OrderRecord, error)
}

// Applier persists derived records.
type Applier interface {
	Apply(ctx context.Context, records []domain.OrderRecord) ([]domain.UpdateResult, error)
}

// BatchDeriver derives a batch of pool events with bounded parallelism and
// hands the combined records to the persistence gateway.
type BatchDeriver struct {
	deriver     Deriver
	gateway     Applier
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewBatchDeriver creates a BatchDeriver. concurrency bounds the number of
// pools derived at once. Timeouts belong to the deriver's individual calls;
// no deadline spans a whole pool.
func NewBatchDeriver(deriver Deriver, gateway Applier, concurrency int, m *metrics.Metrics, logger *slog.Logger) *BatchDeriver {
	if concurrency <= 0 {
		concurrency = 20
	}
	return &BatchDeriver{
		deriver:     deriver,
		gateway:     gateway,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.With(slog.String("component", "batch_deriver")),
	}
}

// DeriveBatch derives every event and applies the union of the records. A
// failing pool is logged and skipped. Records keep the order of their events.
func (b *BatchDeriver) DeriveBatch(ctx context.Context, events []domain.PoolEvent) ([]domain.UpdateResult, error) {
	if len(events) == 0 {
		return nil, nil
	}
	b.metrics.DeriveBatch(len(events))

	perEvent := make([][]domain.OrderRecord, len(events))
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, ev := range events {
		g.Go(func() error {
			records, err := b.deriver.Derive(ctx, ev)
			if err != nil {
				b.metrics.DerivationFailed("pool")
				b.logger.Error("batch_deriver: pool failed",
					slog.String("kind", string(b.deriver.Kind())),
					slog.String("pool", ev.Pool),
					slog.String("tx_hash", ev.TxHash),
					slog.Int64("tx_block", ev.TxBlock),
					slog.Int64("log_index", ev.LogIndex),
					slog.String("error", err.Error()),
				)
				return nil
			}
			perEvent[i] = records
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []domain.OrderRecord
	for _, rs := range perEvent {
		records = append(records, rs...)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return b.gateway.Apply(ctx, records)
}
