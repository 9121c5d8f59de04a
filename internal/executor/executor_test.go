package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/marketlens/internal/guard"
)

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, 30*time.Second, false), mock
}

func TestPing(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		e, mock := newMockExecutor(t)
		mock.ExpectQuery("SELECT 1").
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		assert.NoError(t, e.Ping(context.Background()))
	})

	t.Run("unreachable", func(t *testing.T) {
		e, mock := newMockExecutor(t)
		mock.ExpectQuery("SELECT 1").
			WillReturnError(errors.New("dial tcp: connection refused"))

		assert.Error(t, e.Ping(context.Background()))
	})
}

func TestExecute(t *testing.T) {
	stmt := guard.GuardedSql{Text: "SELECT ts, symbol, price FROM public.token_prices_minutely LIMIT 2"}

	t.Run("statement timeout is set before the query", func(t *testing.T) {
		// Arrange
		e, mock := newMockExecutor(t)
		mock.ExpectExec(`SET statement_timeout = 30000`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT ts, symbol, price`).
			WillReturnRows(sqlmock.NewRows([]string{"ts", "symbol", "price"}).
				AddRow(time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC), []byte("WETH"), []byte("3000.25")))

		// Act
		rows, err := e.Execute(context.Background(), stmt)

		// Assert
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
		require.Len(t, rows, 1)
		assert.Equal(t, "2026-08-01T12:30:00Z", rows[0]["ts"])
		assert.Equal(t, "WETH", rows[0]["symbol"])
		assert.Equal(t, "3000.25", rows[0]["price"])
	})

	t.Run("empty result is a non-nil slice", func(t *testing.T) {
		e, mock := newMockExecutor(t)
		mock.ExpectExec(`SET statement_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT`).
			WillReturnRows(sqlmock.NewRows([]string{"ts"}))

		rows, err := e.Execute(context.Background(), stmt)

		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Len(t, rows, 0)
	})

	t.Run("query failure is wrapped with the statement", func(t *testing.T) {
		e, mock := newMockExecutor(t)
		mock.ExpectExec(`SET statement_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT`).
			WillReturnError(errors.New(`pq: syntax error at or near "FROM"`))

		_, err := e.Execute(context.Background(), stmt)

		var ee *Error
		require.ErrorAs(t, err, &ee)
		assert.Contains(t, ee.Message, "syntax error")
		assert.Equal(t, stmt.Text, ee.SQL)
	})

	t.Run("timeout setup failure stops the statement", func(t *testing.T) {
		e, mock := newMockExecutor(t)
		mock.ExpectExec(`SET statement_timeout`).
			WillReturnError(errors.New("connection reset"))

		_, err := e.Execute(context.Background(), stmt)

		var ee *Error
		require.ErrorAs(t, err, &ee)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
