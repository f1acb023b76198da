package domain

import (
	"context"
	"time"
)

// DeadLetter is a queue job that exhausted its retries.
type DeadLetter struct {
	ID       string    `json:"id"`
	Job      string    `json:"job"`
	Key      string    `json:"key,omitempty"`
	Payload  []byte    `json:"payload"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failedAt"`
}

// DeadLetterArchive stores dead-lettered jobs in cold storage.
type DeadLetterArchive interface {
	Archive(ctx context.Context, letters []DeadLetter) (string, error)
}
