package storage

import (
	"fmt"
	"time"
)

// SessionCounters holds the last observed cumulative counters of the session
// currently tracked for a subscriber.
type SessionCounters struct {
	SessionID string `json:"session_id"`
	Rx        uint64 `json:"rx"`
	Tx        uint64 `json:"tx"`
}

// UsageRecord is the ledger entry for a single subscriber.
//
// AccumulatedRx/Tx hold bytes from sessions already closed within Period.
// Current holds the counters of the open session and is nil until a session
// has been observed. The period total is always Accumulated + Current.
type UsageRecord struct {
	SubscriberID  string           `json:"subscriber_id"`
	Period        string           `json:"period"`
	AccumulatedRx uint64           `json:"accumulated_rx"`
	AccumulatedTx uint64           `json:"accumulated_tx"`
	Current       *SessionCounters `json:"current,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Validate checks the fields every persisted record must carry.
func (r UsageRecord) Validate() error {
	if r.SubscriberID == "" {
		return fmt.Errorf("usage record: empty subscriber id")
	}
	if r.Period == "" {
		return fmt.Errorf("usage record %s: empty period", r.SubscriberID)
	}
	if r.Current != nil && r.Current.SessionID == "" {
		return fmt.Errorf("usage record %s: current session without id", r.SubscriberID)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r UsageRecord) Clone() UsageRecord {
	out := r
	if r.Current != nil {
		current := *r.Current
		out.Current = &current
	}
	return out
}
