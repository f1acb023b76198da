package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

type published struct {
	channel string
	payload []byte
}

type recordingBus struct {
	err  error
	sent []published
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, published{channel: channel, payload: payload})
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error {
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type alert struct {
	event, title, message string
}

type recordingNotifier struct {
	alerts []alert
}

func (n *recordingNotifier) Notify(_ context.Context, event, title, message string) error {
	n.alerts = append(n.alerts, alert{event: event, title: title, message: message})
	return nil
}

func jobPayload(t *testing.T, r domain.UpdateResult) []byte {
	t.Helper()
	data, err := json.Marshal(UpdateJob(r))
	require.NoError(t, err)
	return data
}

func TestOrderUpdateHandlerPublishesOrder(t *testing.T) {
	orders := newMemOrders()
	orders.put(poolOrder("0xa", "0xc", 1000), true)
	bus := &recordingBus{}
	notifier := &recordingNotifier{}
	h := NewOrderUpdateHandler(orders, bus, notifier, discardLogger())

	err := h.Handle(context.Background(), jobPayload(t, domain.UpdateResult{
		ID: "0xa", TxHash: "0xtx1", TxTimestamp: 200, TriggerKind: domain.TriggerNewOrder,
	}))
	require.NoError(t, err)

	require.Len(t, bus.sent, 1)
	require.Equal(t, OrdersChannel, bus.sent[0].channel)
	var ev OrderEvent
	require.NoError(t, json.Unmarshal(bus.sent[0].payload, &ev))
	require.Equal(t, "0xa", ev.ID)
	require.Equal(t, "1000", ev.Price)
	require.Equal(t, domain.FillabilityFillable, ev.Status)
	require.Equal(t, domain.TriggerNewOrder, ev.Trigger.Kind)
	require.Equal(t, "0xtx1", ev.Trigger.TxHash)

	require.Len(t, notifier.alerts, 1)
	require.Equal(t, "new-order", notifier.alerts[0].event)
	require.Equal(t, "nftx order new-order", notifier.alerts[0].title)
}

func TestOrderUpdateHandlerIgnoresVanishedOrder(t *testing.T) {
	bus := &recordingBus{}
	h := NewOrderUpdateHandler(newMemOrders(), bus, nil, discardLogger())

	err := h.Handle(context.Background(), jobPayload(t, domain.UpdateResult{ID: "0xgone", TriggerKind: domain.TriggerCancel}))
	require.NoError(t, err)
	require.Empty(t, bus.sent)
}

func TestOrderUpdateHandlerRejectsMalformedJobs(t *testing.T) {
	h := NewOrderUpdateHandler(newMemOrders(), &recordingBus{}, nil, discardLogger())

	for _, payload := range []string{`not json`, `{"context":"x"}`} {
		err := h.Handle(context.Background(), []byte(payload))
		var perm *backoff.PermanentError
		require.ErrorAs(t, err, &perm, payload)
	}
}

func TestOrderUpdateHandlerRetriesPublishFailure(t *testing.T) {
	orders := newMemOrders()
	orders.put(poolOrder("0xa", "0xc", 1000), true)
	boom := errors.New("redis down")
	h := NewOrderUpdateHandler(orders, &recordingBus{err: boom}, nil, discardLogger())

	err := h.Handle(context.Background(), jobPayload(t, domain.UpdateResult{ID: "0xa", TriggerKind: domain.TriggerReprice}))
	require.ErrorIs(t, err, boom)
	var perm *backoff.PermanentError
	require.False(t, errors.As(err, &perm))
}
