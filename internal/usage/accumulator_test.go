package usage

import (
	"math"
	"testing"
	"time"

	"github.com/goodtune/ispmeter/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var observedAt = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func observe(session string, rx, tx uint64) Observation {
	return Observation{
		SubscriberID: "alice",
		Period:       "2024-03",
		SessionID:    session,
		Rx:           rx,
		Tx:           tx,
		At:           observedAt,
	}
}

func TestAccumulate(t *testing.T) {
	tests := []struct {
		name           string
		prior          *storage.UsageRecord
		obs            Observation
		wantTransition Transition
		wantAccRx      uint64
		wantAccTx      uint64
		wantCurrent    storage.SessionCounters
	}{
		{
			name:           "first observation",
			obs:            observe("s1", 100, 50),
			wantTransition: TransitionCreated,
			wantCurrent:    storage.SessionCounters{SessionID: "s1", Rx: 100, Tx: 50},
		},
		{
			name: "counters advance",
			prior: &storage.UsageRecord{
				SubscriberID: "alice", Period: "2024-03",
				Current: &storage.SessionCounters{SessionID: "s1", Rx: 100, Tx: 50},
			},
			obs:            observe("s1", 300, 80),
			wantTransition: TransitionAdvanced,
			wantCurrent:    storage.SessionCounters{SessionID: "s1", Rx: 300, Tx: 80},
		},
		{
			name: "reconnect folds previous session",
			prior: &storage.UsageRecord{
				SubscriberID: "alice", Period: "2024-03",
				Current: &storage.SessionCounters{SessionID: "s1", Rx: 300, Tx: 80},
			},
			obs:            observe("s2", 10, 5),
			wantTransition: TransitionSessionChanged,
			wantAccRx:      300,
			wantAccTx:      80,
			wantCurrent:    storage.SessionCounters{SessionID: "s2", Rx: 10, Tx: 5},
		},
		{
			name: "counter reset on same session",
			prior: &storage.UsageRecord{
				SubscriberID: "alice", Period: "2024-03",
				AccumulatedRx: 300, AccumulatedTx: 80,
				Current: &storage.SessionCounters{SessionID: "s2", Rx: 50, Tx: 20},
			},
			obs:            observe("s2", 5, 30),
			wantTransition: TransitionCounterReset,
			wantAccRx:      350,
			wantAccTx:      100,
			wantCurrent:    storage.SessionCounters{SessionID: "s2", Rx: 5, Tx: 30},
		},
		{
			name: "month rollover discards previous period",
			prior: &storage.UsageRecord{
				SubscriberID: "alice", Period: "2024-02",
				AccumulatedRx: 1000, AccumulatedTx: 400,
				Current: &storage.SessionCounters{SessionID: "s2", Rx: 500, Tx: 200},
			},
			obs:            observe("s2", 600, 250),
			wantTransition: TransitionRollover,
			wantCurrent:    storage.SessionCounters{SessionID: "s2", Rx: 600, Tx: 250},
		},
		{
			name: "rollover takes precedence over session change",
			prior: &storage.UsageRecord{
				SubscriberID: "alice", Period: "2024-02",
				Current: &storage.SessionCounters{SessionID: "s1", Rx: 500, Tx: 200},
			},
			obs:            observe("s9", 1, 1),
			wantTransition: TransitionRollover,
			wantCurrent:    storage.SessionCounters{SessionID: "s9", Rx: 1, Tx: 1},
		},
		{
			name: "session change takes precedence over lower counters",
			prior: &storage.UsageRecord{
				SubscriberID: "alice", Period: "2024-03",
				Current: &storage.SessionCounters{SessionID: "s1", Rx: 500, Tx: 200},
			},
			obs:            observe("s2", 1, 1),
			wantTransition: TransitionSessionChanged,
			wantAccRx:      500,
			wantAccTx:      200,
			wantCurrent:    storage.SessionCounters{SessionID: "s2", Rx: 1, Tx: 1},
		},
		{
			name: "fold saturates",
			prior: &storage.UsageRecord{
				SubscriberID: "alice", Period: "2024-03",
				AccumulatedRx: math.MaxUint64 - 10, AccumulatedTx: 7,
				Current: &storage.SessionCounters{SessionID: "s1", Rx: 100, Tx: 3},
			},
			obs:            observe("s2", 0, 0),
			wantTransition: TransitionSessionChanged,
			wantAccRx:      math.MaxUint64,
			wantAccTx:      10,
			wantCurrent:    storage.SessionCounters{SessionID: "s2"},
		},
		{
			name: "record without a current session",
			prior: &storage.UsageRecord{
				SubscriberID: "alice", Period: "2024-03",
				AccumulatedRx: 40, AccumulatedTx: 4,
			},
			obs:            observe("s3", 7, 8),
			wantTransition: TransitionSessionChanged,
			wantAccRx:      40,
			wantAccTx:      4,
			wantCurrent:    storage.SessionCounters{SessionID: "s3", Rx: 7, Tx: 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, transition := Accumulate(tt.prior, tt.obs)

			assert.Equal(t, tt.wantTransition, transition)
			assert.Equal(t, "alice", next.SubscriberID)
			assert.Equal(t, "2024-03", next.Period)
			assert.Equal(t, tt.wantAccRx, next.AccumulatedRx)
			assert.Equal(t, tt.wantAccTx, next.AccumulatedTx)
			require.NotNil(t, next.Current)
			assert.Equal(t, tt.wantCurrent, *next.Current)
			assert.Equal(t, observedAt, next.UpdatedAt)
			assert.NoError(t, next.Validate())
		})
	}
}

func TestAccumulateDoesNotModifyPrior(t *testing.T) {
	prior := &storage.UsageRecord{
		SubscriberID: "alice", Period: "2024-03",
		AccumulatedRx: 10, AccumulatedTx: 20,
		Current: &storage.SessionCounters{SessionID: "s1", Rx: 30, Tx: 40},
	}
	snapshot := prior.Clone()

	next, _ := Accumulate(prior, observe("s2", 1, 2))
	assert.Equal(t, snapshot, *prior)

	next.Current.Rx = 999
	assert.Equal(t, uint64(30), prior.Current.Rx)
}

func TestAccumulateReplayIsIdempotent(t *testing.T) {
	obs := observe("s1", 700, 300)

	first, _ := Accumulate(&storage.UsageRecord{
		SubscriberID: "alice", Period: "2024-03",
		AccumulatedRx: 100, AccumulatedTx: 100,
		Current: &storage.SessionCounters{SessionID: "s1", Rx: 500, Tx: 200},
	}, obs)
	second, transition := Accumulate(&first, obs)

	assert.Equal(t, TransitionAdvanced, transition)
	assert.Equal(t, first, second)
}

func TestAccumulateTotalNeverDecreasesWithinPeriod(t *testing.T) {
	steps := []Observation{
		observe("s1", 100, 10),
		observe("s1", 200, 20),
		observe("s1", 50, 5), // reset
		observe("s2", 0, 0),  // reconnect
		observe("s2", 80, 8),
		observe("s2", 80, 8), // unchanged
		observe("s3", 1, 1),
	}

	var record *storage.UsageRecord
	var last uint64
	for i, obs := range steps {
		next, _ := Accumulate(record, obs)
		total := PeriodUsage(&next, "2024-03").Total()
		assert.GreaterOrEqual(t, total, last, "step %d", i)
		last = total
		record = &next
	}

	// 200+20 before the reset, 50+5 until the reconnect, 80+8 on s2, 1+1 on s3.
	assert.Equal(t, uint64(220+55+88+2), last)
}

func TestPeriodUsage(t *testing.T) {
	record := &storage.UsageRecord{
		SubscriberID: "alice", Period: "2024-03",
		AccumulatedRx: 300, AccumulatedTx: 80,
		Current: &storage.SessionCounters{SessionID: "s2", Rx: 10, Tx: 5},
	}

	assert.Equal(t, Usage{Rx: 310, Tx: 85}, PeriodUsage(record, "2024-03"))
	assert.Equal(t, Usage{}, PeriodUsage(record, "2024-04"))
	assert.Equal(t, Usage{}, PeriodUsage(nil, "2024-03"))

	record.Current = nil
	assert.Equal(t, Usage{Rx: 300, Tx: 80}, PeriodUsage(record, "2024-03"))
}

func TestUsageTotalSaturates(t *testing.T) {
	assert.Equal(t, uint64(30), Usage{Rx: 10, Tx: 20}.Total())
	assert.Equal(t, uint64(math.MaxUint64), Usage{Rx: math.MaxUint64, Tx: 1}.Total())
}
