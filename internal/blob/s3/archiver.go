package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// objectPutter is the subset of Writer the archiver needs.
type objectPutter interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
}

// DeadLetterArchiver writes batches of dead-lettered jobs as JSONL objects
// partitioned by job name and UTC day:
//
//	dead-letters/order-updates-by-id/2024-03-09/1709942400000-3.jsonl
type DeadLetterArchiver struct {
	writer objectPutter
	prefix string
	now    func() time.Time
}

var _ domain.DeadLetterArchive = (*DeadLetterArchiver)(nil)

// NewDeadLetterArchiver creates an archiver that uploads through w.
func NewDeadLetterArchiver(w *Writer) *DeadLetterArchiver {
	return newDeadLetterArchiver(w)
}

func newDeadLetterArchiver(w objectPutter) *DeadLetterArchiver {
	return &DeadLetterArchiver{
		writer: w,
		prefix: "dead-letters",
		now:    time.Now,
	}
}

// Archive uploads letters and returns the object key. An empty batch uploads
// nothing and returns an empty key.
func (a *DeadLetterArchiver) Archive(ctx context.Context, letters []domain.DeadLetter) (string, error) {
	if len(letters) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(letters)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive dead letters marshal: %w", err)
	}

	key := a.archiveKey(letters[0].Job, len(letters))
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), int64(len(buf)), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive dead letters upload: %w", err)
	}
	return key, nil
}

func (a *DeadLetterArchiver) archiveKey(job string, count int) string {
	if job == "" {
		job = "unknown"
	}
	now := a.now().UTC()
	return fmt.Sprintf("%s/%s/%s/%d-%d.jsonl", a.prefix, job, now.Format("2006-01-02"), now.UnixMilli(), count)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
