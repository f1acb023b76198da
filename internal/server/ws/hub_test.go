package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestFilterMatch(t *testing.T) {
	require.True(t, filter{}.match(eventHeader{Kind: "nftx", Contract: "0xA"}))

	f := filter{contracts: lowerSet([]string{"0xA"}), kinds: lowerSet([]string{"NFTX"})}
	require.True(t, f.match(eventHeader{Kind: "nftx", Contract: "0xa"}))
	require.False(t, f.match(eventHeader{Kind: "sudoswap", Contract: "0xa"}))
	require.False(t, f.match(eventHeader{Kind: "nftx", Contract: "0xb"}))
}

func TestHub_RelaysFilteredEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	hub := NewHub(bus, []string{"orders"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, hello, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(hello), `"connected"`)

	sub, _ := json.Marshal(subscribeMsg{Action: "subscribe", Contracts: []string{"0xAAA"}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))

	// Give the read pump a moment to apply the filter.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if !c.wants(eventHeader{Contract: "0xbbb"}) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	bus.ch <- []byte(`{"id":"1","kind":"nftx","contract":"0xbbb"}`)
	bus.ch <- []byte(`{"id":"2","kind":"nftx","contract":"0xaaa"}`)

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"2","kind":"nftx","contract":"0xaaa"}`, string(msg))
}
