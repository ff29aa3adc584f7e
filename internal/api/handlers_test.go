package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAccounting struct {
	usages   map[string]usage.Usage
	usageErr error
	list     []usage.SubscriberUsage
	listErr  error
	result   *usage.CycleResult
	cycleErr error
}

func (s *stubAccounting) CurrentPeriod() string { return "2024-03" }

func (s *stubAccounting) MonthlyUsage(ctx context.Context, subscriberID string) (usage.Usage, error) {
	if s.usageErr != nil {
		return usage.Usage{}, s.usageErr
	}
	return s.usages[subscriberID], nil
}

func (s *stubAccounting) ListMonthlyUsage(ctx context.Context) ([]usage.SubscriberUsage, error) {
	return s.list, s.listErr
}

func (s *stubAccounting) RunCycle(ctx context.Context) (*usage.CycleResult, error) {
	return s.result, s.cycleErr
}

func serve(t *testing.T, engine Accounting, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(engine, zerolog.Nop())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestGetUsage(t *testing.T) {
	engine := &stubAccounting{usages: map[string]usage.Usage{
		"alice": {Rx: 355, Tx: 130},
		"big":   {Rx: math.MaxUint64 - 1, Tx: 1 << 60},
	}}

	tests := []struct {
		name string
		path string
		want UsageResponse
	}{
		{
			name: "tracked subscriber",
			path: "/api/usage/alice",
			want: UsageResponse{Subscriber: "alice", Period: "2024-03", Rx: 355, Tx: 130, Total: 485},
		},
		{
			name: "unknown subscriber",
			path: "/api/usage/nobody",
			want: UsageResponse{Subscriber: "nobody", Period: "2024-03"},
		},
		{
			name: "large counters stay exact",
			path: "/api/usage/big",
			want: UsageResponse{Subscriber: "big", Period: "2024-03", Rx: math.MaxUint64 - 1, Tx: 1 << 60, Total: math.MaxUint64},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, engine, http.MethodGet, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var got UsageResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetUsageStorageError(t *testing.T) {
	engine := &stubAccounting{usageErr: fmt.Errorf("%w: connection refused", usage.ErrLedgerRead)}

	rec := serve(t, engine, http.MethodGet, "/api/usage/alice")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var got ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, http.StatusInternalServerError, got.Code)
}

func TestListUsage(t *testing.T) {
	engine := &stubAccounting{list: []usage.SubscriberUsage{
		{SubscriberID: "alice", Period: "2024-03", Usage: usage.Usage{Rx: 1, Tx: 2}},
		{SubscriberID: "bob", Period: "2024-03", Usage: usage.Usage{Rx: 10}},
	}}

	rec := serve(t, engine, http.MethodGet, "/api/usage")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Period string          `json:"period"`
		Usages []UsageResponse `json:"usages"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2024-03", got.Period)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, UsageResponse{Subscriber: "alice", Period: "2024-03", Rx: 1, Tx: 2, Total: 3}, got.Usages[0])

	engine.listErr = errors.New("boom")
	rec = serve(t, engine, http.MethodGet, "/api/usage")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunCycle(t *testing.T) {
	tests := []struct {
		name     string
		engine   *stubAccounting
		wantCode int
	}{
		{
			name: "success",
			engine: &stubAccounting{result: &usage.CycleResult{
				Period: "2024-03", Sessions: 3, Updated: 2, Skipped: 1,
				Transitions: map[usage.Transition]int{usage.TransitionAdvanced: 2},
			}},
			wantCode: http.StatusOK,
		},
		{
			name:     "device unreachable",
			engine:   &stubAccounting{cycleErr: fmt.Errorf("%w: dial tcp: i/o timeout", usage.ErrSnapshotFetch)},
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "ledger write failed",
			engine:   &stubAccounting{cycleErr: fmt.Errorf("%w: disk full", usage.ErrLedgerWrite)},
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.engine, http.MethodPost, "/api/cycles")
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRunCycleResponseBody(t *testing.T) {
	engine := &stubAccounting{result: &usage.CycleResult{
		Period: "2024-03", Sessions: 3, Updated: 2, Skipped: 1,
		Transitions: map[usage.Transition]int{usage.TransitionCreated: 1, usage.TransitionAdvanced: 1},
	}}

	rec := serve(t, engine, http.MethodPost, "/api/cycles")
	require.Equal(t, http.StatusOK, rec.Code)

	var got CycleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Updated)
	assert.Equal(t, 1, got.Transitions[usage.TransitionCreated])
}

func TestRouting(t *testing.T) {
	engine := &stubAccounting{}

	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, engine, http.MethodGet, "/api/cycles").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, engine, http.MethodDelete, "/api/usage/alice").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, engine, http.MethodGet, "/api/unknown").Code)
}
