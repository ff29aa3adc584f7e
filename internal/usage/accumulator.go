package usage

import (
	"math"

	"github.com/goodtune/ispmeter/internal/storage"
)

// Accumulate folds one observation into a subscriber's ledger record and
// returns the next record. prior may be nil. prior is never modified.
//
// Cases, in order of precedence:
//   - no prior record: start tracking the observed session from zero
//   - period rollover: zero the accumulation and track the observed counters;
//     a session that straddles the boundary counts its whole counter toward
//     the new period while the old period stays at its last observation
//   - session id changed: fold the previous session, track the new one
//   - counters went backwards on the same session: treat as a counter reset,
//     fold the previous values and track from the new baseline
//   - otherwise: overwrite the current session counters
func Accumulate(prior *storage.UsageRecord, obs Observation) (storage.UsageRecord, Transition) {
	current := &storage.SessionCounters{
		SessionID: obs.SessionID,
		Rx:        obs.Rx,
		Tx:        obs.Tx,
	}

	if prior == nil {
		return storage.UsageRecord{
			SubscriberID: obs.SubscriberID,
			Period:       obs.Period,
			Current:      current,
			UpdatedAt:    obs.At,
		}, TransitionCreated
	}

	if prior.Period != obs.Period {
		return storage.UsageRecord{
			SubscriberID: obs.SubscriberID,
			Period:       obs.Period,
			Current:      current,
			UpdatedAt:    obs.At,
		}, TransitionRollover
	}

	next := prior.Clone()
	next.SubscriberID = obs.SubscriberID
	next.UpdatedAt = obs.At

	var transition Transition
	switch {
	case prior.Current == nil || prior.Current.SessionID != obs.SessionID:
		transition = TransitionSessionChanged
	case obs.Rx < prior.Current.Rx || obs.Tx < prior.Current.Tx:
		transition = TransitionCounterReset
	default:
		next.Current = current
		return next, TransitionAdvanced
	}

	if prior.Current != nil {
		next.AccumulatedRx = addSaturating(next.AccumulatedRx, prior.Current.Rx)
		next.AccumulatedTx = addSaturating(next.AccumulatedTx, prior.Current.Tx)
	}
	next.Current = current

	return next, transition
}

// PeriodUsage returns the record's total for period, or zero when the record
// is missing or belongs to another period.
func PeriodUsage(record *storage.UsageRecord, period string) Usage {
	if record == nil || record.Period != period {
		return Usage{}
	}

	usage := Usage{Rx: record.AccumulatedRx, Tx: record.AccumulatedTx}
	if record.Current != nil {
		usage.Rx = addSaturating(usage.Rx, record.Current.Rx)
		usage.Tx = addSaturating(usage.Tx, record.Current.Tx)
	}
	return usage
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
