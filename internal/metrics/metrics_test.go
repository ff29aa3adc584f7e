package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestServerRoutes(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("api:" + r.URL.Path))
	})
	srv := NewServer("127.0.0.1:0", api, zerolog.Nop())

	CyclesTotal.WithLabelValues("success").Inc()

	tests := []struct {
		path string
		want string
	}{
		{path: "/health", want: "OK"},
		{path: "/api/usage/alice", want: "api:/api/usage/alice"},
		{path: "/metrics", want: `ispmeter_cycles_total{result="success"}`},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status %d", tt.path, rec.Code)
		}
		body, _ := io.ReadAll(rec.Body)
		if !strings.Contains(string(body), tt.want) {
			t.Errorf("GET %s: body missing %q", tt.path, tt.want)
		}
	}
}

func TestServerWithoutAPI(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
