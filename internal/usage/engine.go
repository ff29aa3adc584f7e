package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/ispmeter/internal/metrics"
	"github.com/goodtune/ispmeter/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultFetchTimeout bounds how long a cycle waits for the device.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultWorkers is the number of subscribers accounted concurrently.
	DefaultWorkers = 8

	cycleKey = "cycle"
)

// Config holds engine settings.
type Config struct {
	Naming       Naming
	Location     *time.Location
	FetchTimeout time.Duration
	Workers      int
	Clock        Clock
}

// Engine runs accounting cycles against a snapshot source and answers usage
// queries from the ledger.
type Engine struct {
	source       SnapshotSource
	ledger       storage.LedgerStore
	clock        Clock
	location     *time.Location
	naming       Naming
	fetchTimeout time.Duration
	workers      int
	cycles       singleflight.Group
	logger       zerolog.Logger
}

// NewEngine creates a new accounting engine.
func NewEngine(source SnapshotSource, ledger storage.LedgerStore, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	return &Engine{
		source:       source,
		ledger:       ledger,
		clock:        cfg.Clock,
		location:     cfg.Location,
		naming:       cfg.Naming,
		fetchTimeout: cfg.FetchTimeout,
		workers:      cfg.Workers,
		logger:       logger.With().Str("component", "accounting-engine").Logger(),
	}
}

// CurrentPeriod returns the billing period the engine's clock is in.
func (e *Engine) CurrentPeriod() string {
	return PeriodKey(e.clock.Now(), e.location)
}

// RunCycle takes one snapshot and folds it into the ledger. Callers that
// arrive while a cycle is running join it and receive its result. The shared
// cycle is not cancelled with the caller that started it; the fetch timeout
// bounds it instead. A caller whose ctx ends stops waiting early.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	detached := context.WithoutCancel(ctx)
	ch := e.cycles.DoChan(cycleKey, func() (interface{}, error) {
		return e.runCycle(detached)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			e.logger.Debug().Msg("Joined in-flight accounting cycle")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CycleResult), nil
	}
}

type outcome struct {
	record     storage.UsageRecord
	transition Transition
	resolved   bool
}

func (e *Engine) runCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	now := e.clock.Now()
	period := PeriodKey(now, e.location)

	sessions, interfaces, err := e.fetchSnapshot(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("fetch_error").Inc()
		e.logger.Error().Err(err).Msg("Accounting cycle aborted, snapshot fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrSnapshotFetch, err)
	}
	metrics.ActiveSessions.Set(float64(len(sessions)))

	result := &CycleResult{
		Period:      period,
		Sessions:    len(sessions),
		Transitions: make(map[Transition]int),
	}

	observed := e.uniqueSessions(sessions)
	result.Skipped = len(sessions) - len(observed)

	resolver := NewResolver(e.naming, interfaces)
	outcomes := make([]outcome, len(observed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, session := range observed {
		g.Go(func() error {
			iface, ok := resolver.Resolve(session.SubscriberID)
			if !ok {
				e.logger.Debug().
					Str("subscriber", session.SubscriberID).
					Str("interface", e.naming.InterfaceName(session.SubscriberID)).
					Msg("No interface for subscriber, skipping")
				return nil
			}

			prior, err := e.loadPrior(gctx, session.SubscriberID)
			if err != nil {
				return err
			}

			record, transition := Accumulate(prior, Observation{
				SubscriberID: session.SubscriberID,
				Period:       period,
				SessionID:    session.SessionID,
				Rx:           iface.RxBytes,
				Tx:           iface.TxBytes,
				At:           now,
			})
			outcomes[i] = outcome{record: record, transition: transition, resolved: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.CyclesTotal.WithLabelValues("read_error").Inc()
		e.logger.Error().Err(err).Msg("Accounting cycle aborted, ledger read failed")
		return nil, fmt.Errorf("%w: %w", ErrLedgerRead, err)
	}

	records := make([]storage.UsageRecord, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.resolved {
			result.Skipped++
			metrics.ResolutionMissesTotal.Inc()
			continue
		}
		records = append(records, o.record)
		result.Transitions[o.transition]++
		e.logTransition(o.record, o.transition)
	}

	if len(records) > 0 {
		if err := e.ledger.PutBatch(ctx, records); err != nil {
			metrics.CyclesTotal.WithLabelValues("write_error").Inc()
			e.logger.Error().Err(err).Int("records", len(records)).Msg("Accounting cycle aborted, ledger write failed")
			return nil, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
		}
	}

	result.Updated = len(records)
	result.Duration = time.Since(start)

	for transition, count := range result.Transitions {
		metrics.LedgerTransitionsTotal.WithLabelValues(string(transition)).Add(float64(count))
	}
	metrics.CyclesTotal.WithLabelValues("success").Inc()
	metrics.CycleDuration.Observe(result.Duration.Seconds())
	metrics.LastSuccessfulCycle.Set(float64(now.Unix()))

	e.logger.Info().
		Str("period", period).
		Int("sessions", result.Sessions).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("Accounting cycle complete")

	return result, nil
}

func (e *Engine) fetchSnapshot(ctx context.Context) ([]ActiveSession, []Interface, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	sessions, err := e.source.ListActiveSessions(fetchCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("list active sessions: %w", err)
	}

	interfaces, err := e.source.ListInterfaces(fetchCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("list interfaces: %w", err)
	}

	return sessions, interfaces, nil
}

// uniqueSessions drops unusable entries and keeps the first entry for each
// subscriber. Every duplicate resolves to the same interface, so accounting
// more than one would count the same bytes twice.
func (e *Engine) uniqueSessions(sessions []ActiveSession) []ActiveSession {
	seen := make(map[string]struct{}, len(sessions))
	unique := make([]ActiveSession, 0, len(sessions))
	for _, s := range sessions {
		if s.SubscriberID == "" || s.SessionID == "" {
			e.logger.Warn().
				Str("subscriber", s.SubscriberID).
				Str("session", s.SessionID).
				Msg("Ignoring active session with missing identity")
			continue
		}
		if _, dup := seen[s.SubscriberID]; dup {
			e.logger.Warn().
				Str("subscriber", s.SubscriberID).
				Str("session", s.SessionID).
				Msg("Ignoring duplicate active session for subscriber")
			continue
		}
		seen[s.SubscriberID] = struct{}{}
		unique = append(unique, s)
	}
	return unique
}

// loadPrior reads a subscriber's record. A missing or undecodable record is
// reported as nil so tracking restarts from the current observation.
func (e *Engine) loadPrior(ctx context.Context, subscriberID string) (*storage.UsageRecord, error) {
	record, err := e.ledger.Get(ctx, subscriberID)
	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case errors.Is(err, storage.ErrCorruptRecord):
		metrics.CorruptRecordsTotal.Inc()
		e.logger.Warn().Err(err).Str("subscriber", subscriberID).Msg("Discarding unreadable ledger record")
		return nil, nil
	default:
		return nil, fmt.Errorf("read record for %s: %w", subscriberID, err)
	}
}

func (e *Engine) logTransition(record storage.UsageRecord, transition Transition) {
	var event *zerolog.Event
	switch transition {
	case TransitionRollover, TransitionCounterReset:
		event = e.logger.Info()
	default:
		event = e.logger.Debug()
	}

	event = event.
		Str("subscriber", record.SubscriberID).
		Str("transition", string(transition)).
		Uint64("accumulated_rx", record.AccumulatedRx).
		Uint64("accumulated_tx", record.AccumulatedTx)
	if record.Current != nil {
		event = event.
			Str("session", record.Current.SessionID).
			Uint64("rx", record.Current.Rx).
			Uint64("tx", record.Current.Tx)
	}
	event.Msg("Ledger record updated")
}

// MonthlyUsage returns the subscriber's usage for the current period. Unknown
// subscribers, records from an earlier period and unreadable records all
// report zero.
func (e *Engine) MonthlyUsage(ctx context.Context, subscriberID string) (Usage, error) {
	period := e.CurrentPeriod()

	record, err := e.ledger.Get(ctx, subscriberID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			metrics.UsageQueriesTotal.WithLabelValues("miss").Inc()
			return Usage{}, nil
		case errors.Is(err, storage.ErrCorruptRecord):
			metrics.UsageQueriesTotal.WithLabelValues("corrupt").Inc()
			e.logger.Warn().Err(err).Str("subscriber", subscriberID).Msg("Unreadable ledger record reported as zero usage")
			return Usage{}, nil
		default:
			metrics.UsageQueriesTotal.WithLabelValues("error").Inc()
			return Usage{}, fmt.Errorf("%w: %w", ErrLedgerRead, err)
		}
	}

	if record.Period != period {
		metrics.UsageQueriesTotal.WithLabelValues("stale").Inc()
	} else {
		metrics.UsageQueriesTotal.WithLabelValues("hit").Inc()
	}
	return PeriodUsage(record, period), nil
}

// ListMonthlyUsage returns current period usage for every subscriber with a
// record in the current period, ordered by subscriber.
func (e *Engine) ListMonthlyUsage(ctx context.Context) ([]SubscriberUsage, error) {
	period := e.CurrentPeriod()

	records, err := e.ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerRead, err)
	}

	usages := make([]SubscriberUsage, 0, len(records))
	for i := range records {
		if records[i].Period != period {
			continue
		}
		usages = append(usages, SubscriberUsage{
			SubscriberID: records[i].SubscriberID,
			Period:       period,
			Usage:        PeriodUsage(&records[i], period),
		})
	}

	sort.Slice(usages, func(i, j int) bool {
		return usages[i].SubscriberID < usages[j].SubscriberID
	})
	return usages, nil
}
