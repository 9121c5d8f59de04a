package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/marketlens/marketlens/internal/apperr"
	"github.com/marketlens/marketlens/internal/executor"
	"github.com/marketlens/marketlens/internal/guard"
	"github.com/marketlens/marketlens/internal/planner"
	"github.com/marketlens/marketlens/internal/utils"
)

type queryRequest struct {
	Question string `validate:"required" json:"question"`
	Minimal  bool   `json:"minimal"`
}

// Query answers POST /query. Minimal mode (body flag or x-minimal header)
// returns only {ok, answer}.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := utils.DecodeValidate(r.Body, &req); err != nil {
		h.writeError(w, err)
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":    false,
			"error": "question is required",
		})
		return
	}

	minimal := req.Minimal || r.Header.Get("x-minimal") == "1"

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestDeadline())
	defer cancel()

	result, err := h.svc.Ask(ctx, question)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if minimal {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"answer": result.Answer,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"answer": result.Answer,
		"sql":    result.SQL,
		"rows":   result.Rows,
	})
}

// writeError maps pipeline errors to the client-facing taxonomy. Nothing
// sensitive goes into bodies; causes are logged, not returned.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		ge *guard.Error
		pe *planner.ParseError
		ee *executor.Error
		re *apperr.RetryExhausted
		lf *apperr.LLMFailure
		du *apperr.DatabaseUnavailable
		sc *apperr.ErrorWithStatusCode
	)

	switch {
	// Deadline expiry surfaces wrapped inside executor and LLM errors; it must
	// map to 504 no matter which pipeline stage it interrupted.
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{
			"ok":    false,
			"error": "request deadline exceeded",
		})
	case errors.As(err, &ge):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":    false,
			"error": "sql rejected: " + ge.Error(),
			"kind":  string(ge.Kind),
			"sql":   ge.SQL,
		})
	case errors.As(err, &pe):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": pe.Error(),
			"raw":   clip(pe.Raw, 2000),
		})
	case errors.As(err, &re):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": "query failed after retry: " + re.Message,
			"sql":   re.SQL,
		})
	case errors.As(err, &ee):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": "execution error: " + ee.Message,
			"sql":   ee.SQL,
		})
	case errors.As(err, &du):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": "database unavailable",
		})
	case errors.As(err, &lf):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": "language model request failed",
		})
	case errors.As(err, &sc):
		writeJSON(w, sc.StatusCode, map[string]any{
			"ok":    false,
			"error": sc.Message,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": "internal error",
		})
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
