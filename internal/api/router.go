package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// NewRouter returns the usage API routes.
func NewRouter(engine Accounting, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "api").Logger()

	router := mux.NewRouter()
	router.Use(LoggingMiddleware(logger))

	handler := NewUsageHandler(engine, logger)
	router.HandleFunc("/api/usage", handler.List).Methods("GET")
	router.HandleFunc("/api/usage/{subscriber}", handler.Get).Methods("GET")
	router.HandleFunc("/api/cycles", handler.RunCycle).Methods("POST")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return router
}
