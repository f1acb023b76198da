package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name  string
	err   error
	calls int
}

func (s *recordingSender) Send(context.Context, string, string) error {
	s.calls++
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{"cancel"}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "reprice", "t", "m"))
	require.Zero(t, s.calls)
	require.NoError(t, n.Notify(context.Background(), "cancel", "t", "m"))
	require.Equal(t, 1, s.calls)
}

func TestNotifier_JoinsSenderErrors(t *testing.T) {
	failing := &recordingSender{name: "bad", err: errors.New("boom")}
	ok := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{failing, ok}, nil, discardLogger())

	err := n.Notify(context.Background(), "new-order", "t", "m")
	require.ErrorContains(t, err, "bad: boom")
	require.Equal(t, 1, ok.calls)

	var nilNotifier *Notifier
	require.NoError(t, nilNotifier.Notify(context.Background(), "x", "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	require.NoError(t, NewTelegramSender(srv.URL, "TOKEN", "42").Send(context.Background(), "Order cancelled", "0xabc"))
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "*Order cancelled*\n0xabc", got["text"])
}

func TestDiscordSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Embeds []map[string]any `json:"embeds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Embeds[0]["title"] == "fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "ok", "m"))
	require.ErrorContains(t, d.Send(context.Background(), "fail", "m"), "discord: unexpected status 400")
}
