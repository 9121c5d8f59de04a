package setup

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/marketlens/marketlens/internal/config"
	"github.com/marketlens/marketlens/internal/executor"
	"github.com/marketlens/marketlens/internal/handler"
	"github.com/marketlens/marketlens/internal/llm"
	"github.com/marketlens/marketlens/internal/middleware"
	"github.com/marketlens/marketlens/internal/planner"
	"github.com/marketlens/marketlens/internal/rewrite"
	"github.com/marketlens/marketlens/internal/schema"
	"github.com/marketlens/marketlens/internal/service"
)

// Dependencies holds everything built once at startup and shared across
// requests: the pool, the registry, the LLM clients and the wired handler.
type Dependencies struct {
	Config   *config.Config
	DB       *sql.DB
	Registry *schema.Registry
	Service  *service.Service
	Handler  *handler.Handler
	Auth     *middleware.Auth
}

// minutelyCatalog names the minutely time-series tables eligible for the
// hourly pre-aggregation rewrite.
var minutelyCatalog = []rewrite.MinutelySpec{
	{Table: "public.token_prices_minutely", TsColumn: "ts", Metric: "price", Dims: []string{"symbol"}},
}

// Setup initializes all dependencies required for the application. The
// declared schema is verified against the live database before any request
// is served.
func Setup(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	if cfg.Private.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := executor.Open(cfg.Private.DatabaseURL, cfg.Public.PoolMaxConns, cfg.PoolIdleTimeout())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	decl, err := schema.LoadDeclaration(cfg.Public.TablesFile)
	if err != nil {
		db.Close()
		return nil, err
	}
	registry, err := schema.Load(ctx, decl, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	planChat := llm.NewOpenAI(cfg.Private.OpenAIAPIKey, cfg.Public.LLM.BaseURL, cfg.Public.LLM.Model, cfg.LLMTimeout())
	summaryChat := llm.NewOpenAI(cfg.Private.OpenAIAPIKey, cfg.Public.LLM.BaseURL, cfg.Public.LLM.SummaryModel, cfg.LLMTimeout())

	exec := executor.New(db, cfg.StatementTimeout(), cfg.Public.DebugSQL)
	plan := planner.New(planChat, registry.Doc())
	rew := rewrite.New(registry.FractionColumns(), minutelyCatalog)

	svc := service.New(plan, exec, summaryChat, rew, registry, cfg.Public.MaxLimit)
	h := handler.New(svc, exec, cfg)
	auth := middleware.NewAuth(cfg.Private.ServiceAPIKey, cfg.Public.RequireKeyAlways)

	return &Dependencies{
		Config:   cfg,
		DB:       db,
		Registry: registry,
		Service:  svc,
		Handler:  h,
		Auth:     auth,
	}, nil
}

// Cleanup releases process-wide resources.
func (d *Dependencies) Cleanup() error {
	return d.DB.Close()
}
