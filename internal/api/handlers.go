package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// UsageResponse is the body returned for a single subscriber.
type UsageResponse struct {
	Subscriber string `json:"subscriber"`
	Period     string `json:"period"`
	Rx         uint64 `json:"rx"`
	Tx         uint64 `json:"tx"`
	Total      uint64 `json:"total"`
}

// CycleResponse is the body returned after an on-demand cycle.
type CycleResponse struct {
	Period      string                   `json:"period"`
	Sessions    int                      `json:"sessions"`
	Updated     int                      `json:"updated"`
	Skipped     int                      `json:"skipped"`
	Transitions map[usage.Transition]int `json:"transitions"`
	DurationMS  int64                    `json:"duration_ms"`
}

// Accounting is the subset of the accounting engine the API needs.
type Accounting interface {
	CurrentPeriod() string
	MonthlyUsage(ctx context.Context, subscriberID string) (usage.Usage, error)
	ListMonthlyUsage(ctx context.Context) ([]usage.SubscriberUsage, error)
	RunCycle(ctx context.Context) (*usage.CycleResult, error)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// UsageHandler handles usage API requests.
type UsageHandler struct {
	engine Accounting
	logger zerolog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(engine Accounting, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{
		engine: engine,
		logger: logger.With().Str("handler", "usage").Logger(),
	}
}

// Get returns the current period usage of one subscriber. Unknown
// subscribers report zero usage.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	subscriber := mux.Vars(r)["subscriber"]
	if subscriber == "" {
		writeError(w, http.StatusBadRequest, "Subscriber is required")
		return
	}

	period := h.engine.CurrentPeriod()
	u, err := h.engine.MonthlyUsage(r.Context(), subscriber)
	if err != nil {
		h.logger.Error().Err(err).Str("subscriber", subscriber).Msg("Failed to get monthly usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Subscriber: subscriber,
		Period:     period,
		Rx:         u.Rx,
		Tx:         u.Tx,
		Total:      u.Total(),
	})
}

// List returns current period usage for every tracked subscriber.
func (h *UsageHandler) List(w http.ResponseWriter, r *http.Request) {
	usages, err := h.engine.ListMonthlyUsage(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list monthly usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}

	items := make([]UsageResponse, 0, len(usages))
	for _, u := range usages {
		items = append(items, UsageResponse{
			Subscriber: u.SubscriberID,
			Period:     u.Period,
			Rx:         u.Rx,
			Tx:         u.Tx,
			Total:      u.Total(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period": h.engine.CurrentPeriod(),
		"usages": items,
		"count":  len(items),
	})
}

// RunCycle runs an accounting cycle immediately and returns its summary.
func (h *UsageHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.RunCycle(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("On-demand accounting cycle failed")
		if errors.Is(err, usage.ErrSnapshotFetch) {
			writeError(w, http.StatusBadGateway, "Failed to read counters from the device")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update the usage ledger")
		return
	}

	writeJSON(w, http.StatusOK, CycleResponse{
		Period:      result.Period,
		Sessions:    result.Sessions,
		Updated:     result.Updated,
		Skipped:     result.Skipped,
		Transitions: result.Transitions,
		DurationMS:  result.Duration.Milliseconds(),
	})
}
