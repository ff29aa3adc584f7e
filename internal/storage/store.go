package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrCorruptRecord is returned when a stored record exists but cannot be decoded.
	ErrCorruptRecord = errors.New("storage: corrupt record")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Ledger() LedgerStore
}

// LedgerStore persists one UsageRecord per subscriber.
//
// PutBatch must apply all records or none of them. Implementations return
// ErrNotFound from Get for unknown subscribers and wrap ErrCorruptRecord when
// a stored value cannot be decoded.
type LedgerStore interface {
	Get(ctx context.Context, subscriberID string) (*UsageRecord, error)
	Put(ctx context.Context, record UsageRecord) error
	PutBatch(ctx context.Context, records []UsageRecord) error
	List(ctx context.Context) ([]UsageRecord, error)
}
