package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/marketlens/internal/apperr"
	"github.com/marketlens/marketlens/internal/config"
	"github.com/marketlens/marketlens/internal/executor"
	"github.com/marketlens/marketlens/internal/guard"
	"github.com/marketlens/marketlens/internal/planner"
	"github.com/marketlens/marketlens/internal/service"
)

type mockService struct {
	AskFunc func(ctx context.Context, question string) (*service.Result, error)
}

func (m *mockService) Ask(ctx context.Context, question string) (*service.Result, error) {
	return m.AskFunc(ctx, question)
}

type mockHealth struct {
	PingFunc func(ctx context.Context) error
}

func (m *mockHealth) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Public.RequestDeadlineSec = 5
	return cfg
}

func postQuery(t *testing.T, h *Handler, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()

	h.Query(rec, req)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return rec, payload
}

func TestQuery(t *testing.T) {
	okService := &mockService{AskFunc: func(ctx context.Context, question string) (*service.Result, error) {
		return &service.Result{
			Answer: "Latest USDC utilization is 75.12%.",
			SQL:    "SELECT 1",
			Rows:   []map[string]any{{"n": float64(1)}},
		}, nil
	}}

	t.Run("full response", func(t *testing.T) {
		h := New(okService, &mockHealth{}, testConfig())

		rec, payload := postQuery(t, h, `{"question":"latest usdc utilization"}`, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, payload["ok"])
		assert.Equal(t, "Latest USDC utilization is 75.12%.", payload["answer"])
		assert.Equal(t, "SELECT 1", payload["sql"])
		assert.NotNil(t, payload["rows"])
	})

	t.Run("minimal via body flag", func(t *testing.T) {
		h := New(okService, &mockHealth{}, testConfig())

		rec, payload := postQuery(t, h, `{"question":"q","minimal":true}`, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Latest USDC utilization is 75.12%.", payload["answer"])
		_, hasSQL := payload["sql"]
		assert.False(t, hasSQL)
		_, hasRows := payload["rows"]
		assert.False(t, hasRows)
	})

	t.Run("minimal via header", func(t *testing.T) {
		h := New(okService, &mockHealth{}, testConfig())

		_, payload := postQuery(t, h, `{"question":"q"}`, map[string]string{"x-minimal": "1"})

		_, hasSQL := payload["sql"]
		assert.False(t, hasSQL)
	})

	t.Run("missing question", func(t *testing.T) {
		h := New(okService, &mockHealth{}, testConfig())

		rec, payload := postQuery(t, h, `{}`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, false, payload["ok"])
	})

	t.Run("blank question", func(t *testing.T) {
		h := New(okService, &mockHealth{}, testConfig())

		rec, payload := postQuery(t, h, `{"question":"   "}`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "question is required", payload["error"])
	})

	t.Run("invalid json", func(t *testing.T) {
		h := New(okService, &mockHealth{}, testConfig())

		rec, _ := postQuery(t, h, `{"question":`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQuery_ErrorMapping(t *testing.T) {
	serve := func(err error) (*httptest.ResponseRecorder, map[string]any) {
		svc := &mockService{AskFunc: func(ctx context.Context, question string) (*service.Result, error) {
			return nil, err
		}}
		h := New(svc, &mockHealth{}, testConfig())
		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question":"q"}`))
		rec := httptest.NewRecorder()

		h.Query(rec, req)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		return rec, payload
	}

	t.Run("guard rejection is a client error", func(t *testing.T) {
		rec, payload := serve(&guard.Error{Kind: guard.KindNotReadOnly, Detail: "forbidden keyword DELETE", SQL: "DELETE FROM t"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "not_read_only", payload["kind"])
		assert.Equal(t, "DELETE FROM t", payload["sql"])
		assert.Contains(t, payload["error"], "sql rejected")
	})

	t.Run("parse error carries clipped raw output", func(t *testing.T) {
		rec, payload := serve(&planner.ParseError{Raw: strings.Repeat("x", 3000)})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		raw, ok := payload["raw"].(string)
		require.True(t, ok)
		assert.Len(t, raw, 2003) // 2000 plus ellipsis
	})

	t.Run("retry exhausted", func(t *testing.T) {
		rec, payload := serve(&apperr.RetryExhausted{Message: "pq: syntax error", SQL: "SELECT bad"})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, payload["error"], "after retry")
		assert.Equal(t, "SELECT bad", payload["sql"])
	})

	t.Run("execution error", func(t *testing.T) {
		rec, payload := serve(&executor.Error{Message: "pq: division by zero", SQL: "SELECT 1/0"})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, payload["error"], "division by zero")
	})

	t.Run("database unavailable", func(t *testing.T) {
		rec, payload := serve(&apperr.DatabaseUnavailable{Cause: errors.New("dial tcp")})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "database unavailable", payload["error"])
	})

	t.Run("llm failure hides the cause", func(t *testing.T) {
		rec, payload := serve(&apperr.LLMFailure{Stage: "plan", Cause: errors.New("401 invalid api key sk-secret")})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "language model request failed", payload["error"])
		assert.NotContains(t, rec.Body.String(), "sk-secret")
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		rec, payload := serve(context.DeadlineExceeded)

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, "request deadline exceeded", payload["error"])
	})

	t.Run("deadline expiry during execution is a timeout, not a server error", func(t *testing.T) {
		rec, payload := serve(&executor.Error{
			Message: context.DeadlineExceeded.Error(),
			SQL:     "SELECT 1",
			Cause:   context.DeadlineExceeded,
		})

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, "request deadline exceeded", payload["error"])
	})

	t.Run("deadline expiry during an llm call is a timeout", func(t *testing.T) {
		rec, payload := serve(&apperr.LLMFailure{Stage: "plan", Cause: context.DeadlineExceeded})

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, "request deadline exceeded", payload["error"])
	})

	t.Run("unknown error", func(t *testing.T) {
		rec, payload := serve(errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal error", payload["error"])
		assert.NotContains(t, rec.Body.String(), "boom")
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("health is always ok", func(t *testing.T) {
		h := New(&mockService{}, &mockHealth{}, testConfig())
		rec := httptest.NewRecorder()

		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("ready with reachable database", func(t *testing.T) {
		h := New(&mockService{}, &mockHealth{}, testConfig())
		rec := httptest.NewRecorder()

		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ready with dead database", func(t *testing.T) {
		health := &mockHealth{PingFunc: func(ctx context.Context) error {
			return errors.New("dial tcp: connection refused")
		}}
		h := New(&mockService{}, health, testConfig())
		rec := httptest.NewRecorder()

		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "database unavailable", rec.Body.String())
	})
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()

	MethodNotAllowed(rec, httptest.NewRequest(http.MethodGet, "/query", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, false, payload["ok"])
}
