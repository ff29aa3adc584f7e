package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/ispmeter/internal/storage"
)

// Hash field names for a ledger record.
const (
	fieldSubscriberID  = "subscriber_id"
	fieldPeriod        = "period"
	fieldAccumulatedRx = "accumulated_rx"
	fieldAccumulatedTx = "accumulated_tx"
	fieldSessionID     = "session_id"
	fieldSessionRx     = "session_rx"
	fieldSessionTx     = "session_tx"
	fieldUpdatedAt     = "updated_at"
)

// recordArgs flattens a record into the ARGV layout expected by
// putLedgerBatchScript. Counters travel as decimal strings so no precision
// is lost inside Lua.
func recordArgs(record storage.UsageRecord) []interface{} {
	hasCurrent := "0"
	var sessionID, sessionRx, sessionTx string
	if record.Current != nil {
		hasCurrent = "1"
		sessionID = record.Current.SessionID
		sessionRx = strconv.FormatUint(record.Current.Rx, 10)
		sessionTx = strconv.FormatUint(record.Current.Tx, 10)
	}

	return []interface{}{
		record.SubscriberID,
		record.Period,
		strconv.FormatUint(record.AccumulatedRx, 10),
		strconv.FormatUint(record.AccumulatedTx, 10),
		hasCurrent,
		sessionID,
		sessionRx,
		sessionTx,
		record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// parseUsageRecord converts a Redis hash to UsageRecord
func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	accumulatedRx, err := strconv.ParseUint(data[fieldAccumulatedRx], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", storage.ErrCorruptRecord, fieldAccumulatedRx, err)
	}

	accumulatedTx, err := strconv.ParseUint(data[fieldAccumulatedTx], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", storage.ErrCorruptRecord, fieldAccumulatedTx, err)
	}

	record := &storage.UsageRecord{
		SubscriberID:  data[fieldSubscriberID],
		Period:        data[fieldPeriod],
		AccumulatedRx: accumulatedRx,
		AccumulatedTx: accumulatedTx,
	}

	if raw, ok := data[fieldUpdatedAt]; ok && raw != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", storage.ErrCorruptRecord, fieldUpdatedAt, err)
		}
		record.UpdatedAt = updatedAt
	}

	if sessionID, ok := data[fieldSessionID]; ok && sessionID != "" {
		rx, err := strconv.ParseUint(data[fieldSessionRx], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", storage.ErrCorruptRecord, fieldSessionRx, err)
		}
		tx, err := strconv.ParseUint(data[fieldSessionTx], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", storage.ErrCorruptRecord, fieldSessionTx, err)
		}
		record.Current = &storage.SessionCounters{SessionID: sessionID, Rx: rx, Tx: tx}
	}

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorruptRecord, err)
	}

	return record, nil
}
