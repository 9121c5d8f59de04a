// Package executor runs guarded statements on a pooled Postgres connection.
// It pins a connection for the duration of one statement, sets
// statement_timeout before every use (a recycled connection must not inherit
// a prior request's timeout), and releases the connection on every exit path.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/marketlens/marketlens/internal/guard"
)

// Error wraps a driver failure with the statement that caused it.
type Error struct {
	Message string
	SQL     string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("execution error: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Open connects to databaseURL and sizes the pool. The pool is the only
// shared mutable resource in the process.
func Open(databaseURL string, maxConns int, idleTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(idleTimeout)
	return db, nil
}

type Executor struct {
	db          *sql.DB
	stmtTimeout time.Duration
	debugSQL    bool
}

func New(db *sql.DB, stmtTimeout time.Duration, debugSQL bool) *Executor {
	return &Executor{db: db, stmtTimeout: stmtTimeout, debugSQL: debugSQL}
}

// Ping probes the database with SELECT 1 under the statement timeout.
func (e *Executor) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.stmtTimeout)
	defer cancel()
	var one int
	if err := e.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	return nil
}

// Execute runs one guarded statement and returns its rows as label->value
// maps. Accepting only guard.GuardedSql keeps unchecked SQL out of the pool
// at the type level.
func (e *Executor) Execute(ctx context.Context, stmt guard.GuardedSql) ([]map[string]any, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, &Error{Message: err.Error(), SQL: stmt.Text, Cause: err}
	}
	defer conn.Close()

	ms := e.stmtTimeout.Milliseconds()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = %d", ms)); err != nil {
		return nil, &Error{Message: err.Error(), SQL: stmt.Text, Cause: err}
	}

	if e.debugSQL {
		slog.Info("executing sql", "sql", stmt.Text)
	}

	rows, err := conn.QueryContext(ctx, stmt.Text)
	if err != nil {
		return nil, &Error{Message: err.Error(), SQL: stmt.Text, Cause: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &Error{Message: err.Error(), SQL: stmt.Text, Cause: err}
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &Error{Message: err.Error(), SQL: stmt.Text, Cause: err}
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Message: err.Error(), SQL: stmt.Text, Cause: err}
	}
	return out, nil
}

// normalizeValue converts driver types to JSON-friendly values.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
