package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

type fakePutter struct {
	key         string
	body        []byte
	size        int64
	contentType string
	err         error
}

func (f *fakePutter) Put(_ context.Context, key string, data io.Reader, size int64, contentType string) error {
	if f.err != nil {
		return f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.key, f.body, f.size, f.contentType = key, body, size, contentType
	return nil
}

func TestDeadLetterArchiverWritesJSONL(t *testing.T) {
	put := &fakePutter{}
	a := newDeadLetterArchiver(put)
	fixed := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	letters := []domain.DeadLetter{
		{ID: "1-0", Job: domain.JobOrderUpdatesByID, Payload: []byte(`{"id":"0xa"}`), Error: "boom", Attempts: 5, FailedAt: fixed},
		{ID: "2-0", Job: domain.JobOrderUpdatesByID, Payload: []byte(`{"id":"0xb"}`), Error: "boom", Attempts: 5, FailedAt: fixed},
	}

	key, err := a.Archive(context.Background(), letters)
	require.NoError(t, err)
	require.Equal(t, "dead-letters/order-updates-by-id/2024-03-09/1709985600000-2.jsonl", key)
	require.Equal(t, key, put.key)
	require.Equal(t, "application/x-ndjson", put.contentType)
	require.Equal(t, int64(len(put.body)), put.size)

	sc := bufio.NewScanner(bytes.NewReader(put.body))
	var lines int
	for sc.Scan() {
		var got domain.DeadLetter
		require.NoError(t, json.Unmarshal(sc.Bytes(), &got))
		require.Equal(t, letters[lines].ID, got.ID)
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestDeadLetterArchiverEmptyBatch(t *testing.T) {
	put := &fakePutter{}
	key, err := newDeadLetterArchiver(put).Archive(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, key)
	require.Empty(t, put.key)
}

func TestDeadLetterArchiverUploadError(t *testing.T) {
	put := &fakePutter{err: errors.New("denied")}
	_, err := newDeadLetterArchiver(put).Archive(context.Background(), []domain.DeadLetter{{ID: "1-0"}})
	require.ErrorContains(t, err, "denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	require.Equal(t, "http://minio", normaliseEndpoint("minio", false))
	require.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
