package router

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketlens/marketlens/internal/handler"
	mw "github.com/marketlens/marketlens/internal/middleware"
	"github.com/marketlens/marketlens/internal/middleware/metrics"
	"github.com/marketlens/marketlens/internal/setup"
)

// New creates and configures the mux router with all routes.
func New(deps *setup.Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(handlers.CompressHandler)
	r.Use(mw.RequestID)
	r.Use(metrics.Middleware)

	origins := deps.Config.Public.AllowedOrigins
	if len(origins) > 0 {
		r.Use(handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{"POST", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "x-service-key", "x-minimal"}),
		))
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(handler.MethodNotAllowed)

	h := deps.Handler
	auth := deps.Auth.RequireKey()

	r.Handle("/query", auth(http.HandlerFunc(h.Query))).Methods("POST")

	// Probes and metrics stay key-exempt for the orchestrator.
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ready", h.Ready).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}
