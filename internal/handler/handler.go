package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/marketlens/marketlens/internal/config"
	"github.com/marketlens/marketlens/internal/service"
)

// QueryService is what the handler needs from the coordinator.
type QueryService interface {
	Ask(ctx context.Context, question string) (*service.Result, error)
}

// HealthChecker reports whether the database can serve requests.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc    QueryService
	health HealthChecker
	cfg    *config.Config
}

func New(svc QueryService, health HealthChecker, cfg *config.Config) *Handler {
	return &Handler{svc: svc, health: health, cfg: cfg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// MethodNotAllowed is installed as the router's fallback for wrong verbs.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
		"ok":    false,
		"error": "method not allowed",
	})
}
