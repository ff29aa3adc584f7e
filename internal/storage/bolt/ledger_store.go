package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/ispmeter/internal/storage"
	"go.etcd.io/bbolt"
)

type ledgerStore struct {
	db *bbolt.DB
}

// Get returns the subscriber's record. JSON that decodes into an invalid
// record is reported as storage.ErrCorruptRecord.
func (s *ledgerStore) Get(ctx context.Context, subscriberID string) (*storage.UsageRecord, error) {
	record, err := getBucketValue[storage.UsageRecord](ctx, s.db, bucketLedger, subscriberID)
	if err != nil {
		return nil, err
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorruptRecord, subscriberID, err)
	}
	return record, nil
}

func (s *ledgerStore) Put(ctx context.Context, record storage.UsageRecord) error {
	return s.PutBatch(ctx, []storage.UsageRecord{record})
}

// PutBatch writes every record inside a single bolt transaction, so a failure
// on any record leaves the ledger as it was.
func (s *ledgerStore) PutBatch(ctx context.Context, records []storage.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	encoded := make(map[string][]byte, len(records))
	order := make([]string, 0, len(records))
	for _, record := range records {
		if err := record.Validate(); err != nil {
			return err
		}
		data, err := marshal(record)
		if err != nil {
			return err
		}
		if _, seen := encoded[record.SubscriberID]; !seen {
			order = append(order, record.SubscriberID)
		}
		encoded[record.SubscriberID] = data
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketLedger))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketLedger)
		}
		for _, key := range order {
			if err := b.Put([]byte(key), encoded[key]); err != nil {
				return fmt.Errorf("put ledger record %s: %w", key, err)
			}
		}
		return nil
	})
}

// List returns every valid record. Corrupt entries are skipped; they are
// rebuilt by the next accounting cycle that observes the subscriber.
func (s *ledgerStore) List(ctx context.Context) ([]storage.UsageRecord, error) {
	records, err := listBucket[storage.UsageRecord](ctx, s.db, bucketLedger, true)
	if err != nil {
		return nil, err
	}
	valid := records[:0]
	for _, record := range records {
		if record.Validate() == nil {
			valid = append(valid, record)
		}
	}
	return valid, nil
}
