package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/queue"
)

// OrdersChannel is the pub/sub channel carrying OrderEvent payloads.
const OrdersChannel = "orders"

// Notifier forwards filtered operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OrderEvent is the public view of an order change.
type OrderEvent struct {
	ID                string                   `json:"id"`
	Kind              domain.OrderKind         `json:"kind"`
	Side              domain.OrderSide         `json:"side"`
	Status            domain.FillabilityStatus `json:"status"`
	TokenSetID        string                   `json:"tokenSetId"`
	Contract          string                   `json:"contract"`
	Maker             string                   `json:"maker"`
	Price             string                   `json:"price"`
	Value             string                   `json:"value"`
	NormalizedValue   string                   `json:"normalizedValue,omitempty"`
	QuantityRemaining int64                    `json:"quantityRemaining"`
	Trigger           domain.OrderTrigger      `json:"trigger"`
}

// OrderUpdateHandler consumes order-updates-by-id jobs: it loads the order,
// publishes it for websocket subscribers and alerts operators.
type OrderUpdateHandler struct {
	orders   domain.OrderStore
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger
}

// NewOrderUpdateHandler creates an OrderUpdateHandler. notifier may be nil.
func NewOrderUpdateHandler(orders domain.OrderStore, bus domain.SignalBus, notifier Notifier, logger *slog.Logger) *OrderUpdateHandler {
	return &OrderUpdateHandler{
		orders:   orders,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "order_update_handler")),
	}
}

// Handle processes one job payload.
func (h *OrderUpdateHandler) Handle(ctx context.Context, payload []byte) error {
	var job domain.OrderUpdateJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Permanent(fmt.Errorf("order_update_handler: decode job: %w", err))
	}
	if job.ID == "" {
		return queue.Permanent(errors.New("order_update_handler: job without order id"))
	}

	o, err := h.orders.GetByID(ctx, job.ID)
	if errors.Is(err, domain.ErrNotFound) {
		h.logger.Warn("order_update_handler: order vanished", slog.String("order_id", job.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("order_update_handler: load %s: %w", job.ID, err)
	}

	ev := newOrderEvent(o, job.Trigger)
	data, err := json.Marshal(ev)
	if err != nil {
		return queue.Permanent(fmt.Errorf("order_update_handler: encode event: %w", err))
	}
	if err := h.bus.Publish(ctx, OrdersChannel, data); err != nil {
		return fmt.Errorf("order_update_handler: publish %s: %w", job.ID, err)
	}

	if h.notifier != nil {
		title := fmt.Sprintf("%s order %s", o.Kind, job.Trigger.Kind)
		msg := fmt.Sprintf("order %s (%s) is %s at %s\ntx %s", o.ID, o.Side, o.FillabilityStatus, ev.Price, job.Trigger.TxHash)
		if err := h.notifier.Notify(ctx, string(job.Trigger.Kind), title, msg); err != nil {
			h.logger.Warn("order_update_handler: notify failed",
				slog.String("order_id", job.ID), slog.String("error", err.Error()))
		}
	}

	h.logger.Debug("order_update_handler: published",
		slog.String("order_id", job.ID),
		slog.String("trigger", string(job.Trigger.Kind)),
	)
	return nil
}

func newOrderEvent(o domain.Order, trigger domain.OrderTrigger) OrderEvent {
	ev := OrderEvent{
		ID:                o.ID,
		Kind:              o.Kind,
		Side:              o.Side,
		Status:            o.FillabilityStatus,
		TokenSetID:        o.TokenSetID,
		Contract:          o.Contract,
		Maker:             o.Maker,
		Price:             bigString(o.Price),
		Value:             bigString(o.Value),
		QuantityRemaining: o.QuantityRemaining,
		Trigger:           trigger,
	}
	if o.NormalizedValue != nil {
		ev.NormalizedValue = o.NormalizedValue.String()
	}
	return ev
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
