package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/metrics"
)

const statusSuccess = "success"

// OrderGateway applies derived order records to the order table and
// enqueues an update notification for every record that changed a row.
// Writers coordinate only through deterministic ids and the timestamp guard
// of the store.
type OrderGateway struct {
	orders    domain.OrderStore
	tokenSets domain.TokenSetStore
	queue     domain.TaskQueue
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewOrderGateway creates an OrderGateway.
func NewOrderGateway(
	orders domain.OrderStore,
	tokenSets domain.TokenSetStore,
	queue domain.TaskQueue,
	m *metrics.Metrics,
	logger *slog.Logger,
) *OrderGateway {
	return &OrderGateway{
		orders:    orders,
		tokenSets: tokenSets,
		queue:     queue,
		metrics:   m,
		logger:    logger.With(slog.String("component", "order_gateway")),
	}
}

// Apply persists records and returns one result per applied record. A
// failing record is logged and skipped; only a failed batch insert is
// returned as an error, together with the results that did apply.
func (g *OrderGateway) Apply(ctx context.Context, records []domain.OrderRecord) ([]domain.UpdateResult, error) {
	var (
		results  []domain.UpdateResult
		newRecs  []domain.OrderRecord
		batchErr error
	)
	newIdx := make(map[string]int)

	for _, rec := range records {
		log := g.logger.With(
			slog.String("order_id", rec.Order.ID),
			slog.String("action", string(rec.Action)),
			slog.String("tx_hash", rec.Event.TxHash),
		)
		ts := rec.Event.Time()

		switch rec.Action {
		case domain.ActionCancel, domain.ActionNoBalance:
			status, trigger := domain.FillabilityCancelled, domain.TriggerCancel
			if rec.Action == domain.ActionNoBalance {
				status, trigger = domain.FillabilityNoBalance, domain.TriggerReprice
			}
			changed, err := g.orders.SetStatus(ctx, rec.Order.ID, status, ts)
			if err != nil {
				log.Error("order_gateway: set status failed", slog.String("error", err.Error()))
				continue
			}
			if !changed {
				g.metrics.GuardNoop()
				log.Debug("order_gateway: stale status update ignored")
				continue
			}
			results = append(results, result(rec, trigger))

		case domain.ActionUpsert:
			// One insert per id; the newest event wins.
			if i, seen := newIdx[rec.Order.ID]; seen {
				if rec.Event.TxTimestamp >= newRecs[i].Event.TxTimestamp {
					newRecs[i] = rec
				}
				continue
			}
			isNew, err := g.prepareUpsert(ctx, rec.Order.ID)
			if err != nil {
				log.Error("order_gateway: lookup failed", slog.String("error", err.Error()))
				continue
			}
			if isNew {
				newIdx[rec.Order.ID] = len(newRecs)
				newRecs = append(newRecs, rec)
				continue
			}
			changed, err := g.orders.Reprice(ctx, rec.Order, ts)
			if err != nil {
				log.Error("order_gateway: reprice failed", slog.String("error", err.Error()))
				continue
			}
			if !changed {
				g.metrics.GuardNoop()
				log.Debug("order_gateway: stale reprice ignored")
				continue
			}
			results = append(results, result(rec, domain.TriggerReprice))

		default:
			log.Error("order_gateway: unknown record action")
		}
	}

	if len(newRecs) > 0 {
		inserted, err := g.insertNew(ctx, newRecs)
		if err != nil {
			g.logger.Error("order_gateway: batch insert failed",
				slog.Int("orders", len(newRecs)), slog.String("error", err.Error()))
			batchErr = fmt.Errorf("order_gateway: insert %d orders: %w", len(newRecs), err)
		}
		results = append(results, inserted...)
	}

	g.enqueue(ctx, results)
	return results, batchErr
}

// prepareUpsert reports whether the order must be inserted. A row left
// without a token set by an earlier incomplete insert is deleted first.
func (g *OrderGateway) prepareUpsert(ctx context.Context, id string) (bool, error) {
	_, hasTokenSet, err := g.orders.GetTokenSetID(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return true, nil
	case err != nil:
		return false, err
	case hasTokenSet:
		return false, nil
	}

	if err := g.orders.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("delete incomplete order: %w", err)
	}
	g.logger.Warn("order_gateway: replaced order without token set", slog.String("order_id", id))
	return true, nil
}

func (g *OrderGateway) insertNew(ctx context.Context, recs []domain.OrderRecord) ([]domain.UpdateResult, error) {
	var (
		ready     []domain.Order
		readyRecs []domain.OrderRecord
	)
	for _, rec := range recs {
		o := rec.Order
		if err := g.ensureTokenSet(ctx, o.TokenSetID); err != nil {
			g.logger.Error("order_gateway: token set failed",
				slog.String("order_id", o.ID),
				slog.String("token_set_id", o.TokenSetID),
				slog.String("error", err.Error()),
			)
			continue
		}
		ready = append(ready, o)
		readyRecs = append(readyRecs, rec)
	}
	if len(ready) == 0 {
		return nil, nil
	}

	if err := g.orders.InsertBatch(ctx, ready); err != nil {
		return nil, err
	}
	results := make([]domain.UpdateResult, 0, len(readyRecs))
	for _, rec := range readyRecs {
		results = append(results, result(rec, domain.TriggerNewOrder))
	}
	return results, nil
}

func (g *OrderGateway) ensureTokenSet(ctx context.Context, tokenSetID string) error {
	parts := strings.Split(tokenSetID, ":")
	switch {
	case len(parts) == 2 && parts[0] == "contract":
		_, err := g.tokenSets.EnsureContractWide(ctx, parts[1])
		return err
	case len(parts) == 3 && parts[0] == "token":
		_, err := g.tokenSets.EnsureSingleToken(ctx, parts[1], parts[2])
		return err
	default:
		return fmt.Errorf("unsupported token set %q", tokenSetID)
	}
}

func (g *OrderGateway) enqueue(ctx context.Context, results []domain.UpdateResult) {
	for _, r := range results {
		g.metrics.Applied(string(r.TriggerKind))
		job := UpdateJob(r)
		if err := g.queue.Enqueue(ctx, domain.JobOrderUpdatesByID, job, domain.EnqueueOptions{Key: job.Context}); err != nil {
			g.logger.Error("order_gateway: enqueue failed",
				slog.String("order_id", r.ID),
				slog.String("context", job.Context),
				slog.String("error", err.Error()),
			)
		}
	}
}

// UpdateJob builds the notification payload of an applied record.
func UpdateJob(r domain.UpdateResult) domain.OrderUpdateJob {
	return domain.OrderUpdateJob{
		Context: fmt.Sprintf("%s-%s-%s", r.TriggerKind, r.ID, r.TxHash),
		ID:      r.ID,
		Trigger: domain.OrderTrigger{
			Kind:        r.TriggerKind,
			TxHash:      r.TxHash,
			TxTimestamp: r.TxTimestamp,
		},
	}
}

func result(rec domain.OrderRecord, trigger domain.TriggerKind) domain.UpdateResult {
	return domain.UpdateResult{
		ID:          rec.Order.ID,
		TxHash:      rec.Event.TxHash,
		TxTimestamp: rec.Event.TxTimestamp,
		Status:      statusSuccess,
		TriggerKind: trigger,
	}
}
