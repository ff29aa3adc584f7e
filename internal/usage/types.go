package usage

import (
	"context"
	"time"
)

// ActiveSession is one subscriber session reported by the access concentrator.
type ActiveSession struct {
	SubscriberID string `json:"subscriber_id" yaml:"subscriber_id"`
	SessionID    string `json:"session_id" yaml:"session_id"`
}

// Interface is a device interface with its cumulative byte counters.
type Interface struct {
	Name    string `json:"name" yaml:"name"`
	RxBytes uint64 `json:"rx_bytes" yaml:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes" yaml:"tx_bytes"`
}

// SnapshotSource reads the current session and interface listings from the
// access concentrator. Both calls are read-only.
type SnapshotSource interface {
	ListActiveSessions(ctx context.Context) ([]ActiveSession, error)
	ListInterfaces(ctx context.Context) ([]Interface, error)
}

// Usage is a subscriber's byte total for the current period.
type Usage struct {
	Rx uint64 `json:"rx"`
	Tx uint64 `json:"tx"`
}

// Total returns rx + tx, saturating at the maximum uint64.
func (u Usage) Total() uint64 {
	return addSaturating(u.Rx, u.Tx)
}

// SubscriberUsage pairs a subscriber with its current period usage.
type SubscriberUsage struct {
	SubscriberID string `json:"subscriber"`
	Period       string `json:"period"`
	Usage
}

// Observation is one subscriber's counters as seen in a snapshot.
type Observation struct {
	SubscriberID string
	Period       string
	SessionID    string
	Rx           uint64
	Tx           uint64
	At           time.Time
}

// Transition names the ledger state change an observation produced.
type Transition string

const (
	TransitionCreated        Transition = "created"
	TransitionRollover       Transition = "rollover"
	TransitionSessionChanged Transition = "session_changed"
	TransitionCounterReset   Transition = "counter_reset"
	TransitionAdvanced       Transition = "advanced"
)

// CycleResult summarises a completed accounting cycle.
type CycleResult struct {
	Period      string             `json:"period"`
	Sessions    int                `json:"sessions"`
	Updated     int                `json:"updated"`
	Skipped     int                `json:"skipped"`
	Transitions map[Transition]int `json:"transitions"`
	Duration    time.Duration      `json:"duration"`
}
