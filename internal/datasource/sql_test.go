//nolint:testpackage // exercises unexported where-clause builder
package datasource

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

func billsConfig() SQLConfig {
	return SQLConfig{
		Table:  "payment_bills",
		Select: []string{"id", "state", "amount", "created_at"},
		Fields: map[string]string{
			"merchantId": "merchant_id",
			"state":      "state",
			"createdAt":  "created_at",
			"isDelete":   "is_delete",
		},
		Where:   map[string]any{"is_delete": false},
		OrderBy: "created_at DESC",
	}
}

func newMockTable(t *testing.T, driver string) (*SQLTable, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, setupErr := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, setupErr)
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLTable(sqlx.NewDb(db, driver), billsConfig(), nil), mock
}

func TestSQLTable_Count(t *testing.T) {
	t.Parallel()

	table, mock := newMockTable(t, "mysql")
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT(*) FROM payment_bills WHERE is_delete = ? AND created_at >= ? AND created_at <= ? AND state = ?").
		WithArgs(false, from, to, "completed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := table.Count(t.Context(), domain.Filter{
		"state":     "completed",
		"createdAt": domain.Range{Gte: &from, Lte: &to},
		"isDelete":  false,
		"unknown":   "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTable_FindRebindsForPostgres(t *testing.T) {
	t.Parallel()

	table, mock := newMockTable(t, "postgres")

	mock.ExpectQuery("SELECT id, state, amount, created_at FROM payment_bills WHERE is_delete = $1 AND merchant_id = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4").
		WithArgs(false, "m-1", 2, 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "amount", "created_at"}).
			AddRow([]byte("b-5"), "completed", []byte("150000.00"), "2024-01-02 10:00:00").
			AddRow([]byte("b-6"), "completed", []byte("90000.00"), "2024-01-02 11:00:00"))

	rows, err := table.Find(t.Context(), domain.Query{
		Filter: domain.Filter{"merchantId": "m-1"},
		Limit:  2,
		Offset: 4,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b-5", rows[0]["id"])
	assert.Equal(t, "150000.00", rows[0]["amount"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTable_InFilter(t *testing.T) {
	t.Parallel()

	db, mock, setupErr := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, setupErr)
	t.Cleanup(func() { _ = db.Close() })

	table := NewSQLTable(sqlx.NewDb(db, "mysql"), SQLConfig{
		Table:  "trans_his",
		Fields: map[string]string{"type": "trans_type"},
	}, nil)

	mock.ExpectQuery("SELECT COUNT(*) FROM trans_his WHERE trans_type IN (?, ?)").
		WithArgs("topup", "withdraw").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := table.Count(t.Context(), domain.Filter{"type": domain.In{Values: []any{"topup", "withdraw"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTable_ConnectionFailureIsSourceUnavailable(t *testing.T) {
	t.Parallel()

	table, mock := newMockTable(t, "mysql")
	mock.ExpectQuery("SELECT COUNT(*) FROM payment_bills WHERE is_delete = ?").
		WithArgs(false).
		WillReturnError(errors.New("dial tcp: connection refused"))

	_, err := table.Count(t.Context(), domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestEnsureReadOnly(t *testing.T) {
	t.Parallel()

	for _, q := range []string{
		"INSERT INTO payment_bills VALUES (1)",
		"  update payment_bills set state = 'x'",
		"DELETE FROM trans_his",
		"drop table trans_his",
		"TRUNCATE trans_his",
		"ALTER TABLE x ADD y int",
		"CREATE TABLE x (id int)",
	} {
		require.ErrorIs(t, EnsureReadOnly(q), ErrWriteBlocked, q)
	}

	assert.NoError(t, EnsureReadOnly("SELECT COUNT(*) FROM payment_bills"))
}

func TestAppendCondition_EmptyIn(t *testing.T) {
	t.Parallel()

	conds, args := appendCondition(nil, nil, "trans_type", domain.In{})
	assert.Equal(t, []string{"1 = 0"}, conds)
	assert.Empty(t, args)
}
