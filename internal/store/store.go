// ABOUTME: Store interface and Message type for the durable broadcast log
// ABOUTME: Defines the append/read-after contract and its sentinel errors

package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateToken is returned by Append when a message with the same
// client token has already been recorded. Callers treat this as an
// idempotent success: the original submission is presumed recorded.
var ErrDuplicateToken = errors.New("client token already recorded")

// Message is one entry in the append-only broadcast log. Immutable once
// stored. ID is server-assigned, strictly increasing and gapless within a
// single store instance; it is the global ordering key and the replay cursor.
type Message struct {
	ID          int64
	ClientToken string
	Content     string
	CreatedAt   time.Time
}

// Store defines the interface for the durable message log
type Store interface {
	// Append durably records a new message and assigns its id. A successful
	// return means the row is committed. Returns ErrDuplicateToken when
	// clientToken has been seen before; no duplicate row is created.
	Append(ctx context.Context, content, clientToken string) (*Message, error)

	// ReadAfter streams every message with id > offset, in ascending id
	// order, through fn. The result set is a consistent snapshot of appends
	// committed before the call began; concurrent in-flight appends are not
	// observed. An error from fn aborts iteration and is returned.
	ReadAfter(ctx context.Context, offset int64, fn func(*Message) error) error

	// LastID returns the highest assigned message id, or 0 for an empty log.
	LastID(ctx context.Context) (int64, error)

	// Close releases any resources held by the store
	Close() error
}
