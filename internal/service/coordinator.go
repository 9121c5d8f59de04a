// Package service holds the per-request pipeline: normalize the question,
// probe the database, answer via fast path or plan -> rewrite -> guard ->
// execute with one retry and one empty-result fallback, then summarize.
// Everything within a request is strictly sequential; concurrency lives in
// the HTTP runtime and the connection pool.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/marketlens/marketlens/internal/answer"
	"github.com/marketlens/marketlens/internal/apperr"
	"github.com/marketlens/marketlens/internal/executor"
	"github.com/marketlens/marketlens/internal/guard"
	"github.com/marketlens/marketlens/internal/llm"
	"github.com/marketlens/marketlens/internal/middleware/metrics"
	"github.com/marketlens/marketlens/internal/planner"
	"github.com/marketlens/marketlens/internal/rewrite"
	"github.com/marketlens/marketlens/internal/schema"
)

type Planner interface {
	Plan(ctx context.Context, question string) (*planner.Plan, error)
	Replan(ctx context.Context, question, prevSQL, dbErr string) (*planner.Plan, error)
}

type Executor interface {
	Ping(ctx context.Context) error
	Execute(ctx context.Context, stmt guard.GuardedSql) ([]map[string]any, error)
}

type Service struct {
	planner  Planner
	exec     Executor
	summary  llm.ChatCompletion
	rewriter *rewrite.Rewriter
	tables   map[string]struct{}
	cols     map[string]map[string]struct{}
	maxLimit int
}

func New(p Planner, e Executor, summary llm.ChatCompletion, rew *rewrite.Rewriter, reg *schema.Registry, maxLimit int) *Service {
	return &Service{
		planner:  p,
		exec:     e,
		summary:  summary,
		rewriter: rew,
		tables:   reg.TablesAllowed(),
		cols:     reg.ColumnsByTable(),
		maxLimit: maxLimit,
	}
}

// Result is the full response payload; the handler drops SQL and Rows in
// minimal mode.
type Result struct {
	Answer string
	SQL    string
	Rows   []map[string]any
}

// Ask runs the end-to-end pipeline for one question.
func (s *Service) Ask(ctx context.Context, question string) (*Result, error) {
	q := Normalize(question)

	// Probe before spending an LLM call on a dead database.
	if err := s.exec.Ping(ctx); err != nil {
		return nil, &apperr.DatabaseUnavailable{Cause: err}
	}

	if fp, ok := matchFastPath(q); ok {
		return s.askFastPath(ctx, q, fp)
	}

	plan, err := s.planner.Plan(ctx, q)
	if err != nil {
		return nil, planFailure("plan", err)
	}

	rows, guarded, execErr := s.runCandidate(ctx, q, plan.SQL)
	if execErr != nil {
		var ee *executor.Error
		if errors.As(execErr, &ee) && planner.Recoverable(ee.Message) {
			metrics.PlannerRetries.Inc()
			slog.Debug("recoverable execution error, replanning", "error", ee.Message)

			retryPlan, perr := s.planner.Replan(ctx, q, ee.SQL, ee.Message)
			if perr != nil {
				return nil, planFailure("replan", perr)
			}
			rows, guarded, execErr = s.runCandidate(ctx, q, retryPlan.SQL)
			if execErr != nil {
				if errors.As(execErr, &ee) {
					return nil, &apperr.RetryExhausted{Message: ee.Message, SQL: ee.SQL}
				}
				return nil, execErr
			}
		} else {
			return nil, execErr
		}
	}

	// One fallback: an empty result behind a time filter usually means the
	// window was too narrow, not that there is no data at all.
	if len(rows) == 0 {
		if stripped, ok := stripTimeFilter(guarded.Text); ok {
			if reguarded, err := guard.Check(stripped, s.tables, s.cols, s.maxLimit); err == nil {
				if wide, err := s.exec.Execute(ctx, reguarded); err == nil && len(wide) > 0 {
					rows, guarded = wide, reguarded
				}
			}
		}
	}

	ans := s.summarize(ctx, q, guarded.Text, rows)
	return &Result{Answer: answer.Format(q, ans), SQL: guarded.Text, Rows: rows}, nil
}

func (s *Service) askFastPath(ctx context.Context, q string, fp *fastPath) (*Result, error) {
	guarded, err := guard.Check(fp.sql, s.tables, s.cols, s.maxLimit)
	if err != nil {
		return nil, err
	}
	rows, err := s.exec.Execute(ctx, guarded)
	if err != nil {
		return nil, err
	}
	metrics.FastPathHits.Inc()
	return &Result{Answer: answer.Format(q, fp.answer(rows)), SQL: guarded.Text, Rows: rows}, nil
}

// runCandidate takes raw model SQL through rewrite and guard, then executes.
func (s *Service) runCandidate(ctx context.Context, question, candidate string) ([]map[string]any, guard.GuardedSql, error) {
	rewritten := s.rewriter.Apply(question, candidate)

	guarded, err := guard.Check(rewritten, s.tables, s.cols, s.maxLimit)
	if err != nil {
		var ge *guard.Error
		if errors.As(err, &ge) {
			metrics.GuardRejections.WithLabelValues(string(ge.Kind)).Inc()
		}
		return nil, guard.GuardedSql{}, err
	}

	rows, err := s.exec.Execute(ctx, guarded)
	if err != nil {
		return nil, guarded, err
	}
	return rows, guarded, nil
}

// planFailure keeps parse errors distinct from vendor failures.
func planFailure(stage string, err error) error {
	var pe *planner.ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &apperr.LLMFailure{Stage: stage, Cause: err}
}
