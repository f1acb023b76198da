package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

func TestDecodeEventsSkipsMalformed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	msgs := []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"pool":"0xpool","txHash":"0xa","txBlock":10,"logIndex":2,"txTimestamp":1700000000}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
		{ID: "3-0", Payload: []byte(`{"txHash":"0xb"}`)},
	}

	events, ids := decodeEvents(msgs, logger)
	require.Equal(t, []string{"1-0", "2-0", "3-0"}, ids)
	require.Len(t, events, 1)
	require.Equal(t, "0xpool", events[0].Pool)
	require.Equal(t, int64(10), events[0].TxBlock)
	require.Equal(t, int64(2), events[0].LogIndex)
}
