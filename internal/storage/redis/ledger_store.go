package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/ispmeter/internal/storage"
	"github.com/redis/go-redis/v9"
)

type ledgerStore struct {
	client   *redis.Client
	prefix   string
	putBatch *redis.Script
}

func newLedgerStore(client *redis.Client, prefix string) *ledgerStore {
	return &ledgerStore{
		client:   client,
		prefix:   prefix,
		putBatch: redis.NewScript(putLedgerBatchScript),
	}
}

func (s *ledgerStore) recordKey(subscriberID string) string {
	return fmt.Sprintf("%s:ledger:%s", s.prefix, subscriberID)
}

func (s *ledgerStore) indexKey() string {
	return fmt.Sprintf("%s:ledger:index", s.prefix)
}

// Get retrieves the ledger record for a subscriber
func (s *ledgerStore) Get(ctx context.Context, subscriberID string) (*storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, s.recordKey(subscriberID)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseUsageRecord(data)
}

// Put replaces the ledger record for a single subscriber
func (s *ledgerStore) Put(ctx context.Context, record storage.UsageRecord) error {
	return s.PutBatch(ctx, []storage.UsageRecord{record})
}

// PutBatch replaces all records in one script invocation, which Redis
// executes atomically.
func (s *ledgerStore) PutBatch(ctx context.Context, records []storage.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	keys := make([]string, 0, len(records)+1)
	args := make([]interface{}, 0, len(records)*argsPerRecord+1)

	keys = append(keys, s.indexKey())
	args = append(args, argsPerRecord)

	for _, record := range records {
		if err := record.Validate(); err != nil {
			return err
		}
		keys = append(keys, s.recordKey(record.SubscriberID))
		args = append(args, recordArgs(record)...)
	}

	return s.putBatch.Run(ctx, s.client, keys, args...).Err()
}

// List returns every decodable record in the ledger
func (s *ledgerStore) List(ctx context.Context) ([]storage.UsageRecord, error) {
	subscribers, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	if len(subscribers) == 0 {
		return []storage.UsageRecord{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(subscribers))

	for i, subscriberID := range subscribers {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(subscriberID))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	records := make([]storage.UsageRecord, 0, len(subscribers))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		record, err := parseUsageRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}

	return records, nil
}
