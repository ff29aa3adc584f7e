package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Accounting cycle metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ispmeter_cycles_total",
			Help: "Accounting cycles by outcome",
		},
		[]string{"result"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ispmeter_cycle_duration_seconds",
			Help:    "Accounting cycle duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	LastSuccessfulCycle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ispmeter_last_successful_cycle_timestamp_seconds",
			Help: "Unix time of the last accounting cycle that persisted the ledger",
		},
	)

	// Snapshot metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ispmeter_active_sessions",
			Help: "Active subscriber sessions in the last snapshot",
		},
	)

	ResolutionMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ispmeter_interface_resolution_misses_total",
			Help: "Sessions skipped because no interface matched the subscriber",
		},
	)

	// Ledger metrics
	LedgerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ispmeter_ledger_transitions_total",
			Help: "Persisted ledger state changes by kind",
		},
		[]string{"transition"},
	)

	CorruptRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ispmeter_corrupt_records_total",
			Help: "Ledger records that could not be decoded and were restarted",
		},
	)

	// Query metrics
	UsageQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ispmeter_usage_queries_total",
			Help: "Monthly usage lookups by outcome",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		CyclesTotal,
		CycleDuration,
		LastSuccessfulCycle,
		ActiveSessions,
		ResolutionMissesTotal,
		LedgerTransitionsTotal,
		CorruptRecordsTotal,
		UsageQueriesTotal,
	)
}

// Server is the metrics HTTP server. It also carries the usage API so a
// single listener serves scrapes and billing lookups.
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. api may be nil.
func NewServer(addr string, api http.Handler, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if api != nil {
		mux.Handle("/api/", api)
	}

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop gracefully stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
