package kvstore

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQL(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewSQL(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestSQL_Operations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		run       func(t *testing.T, s *SQL)
	}{
		{
			name: "ensure schema",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("CREATE TABLE IF NOT EXISTS answercache_kv").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			run: func(t *testing.T, s *SQL) {
				assert.NoError(t, s.EnsureSchema(ctx))
			},
		},
		{
			name: "get existing key",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(getSQL)).
					WithArgs("meta").
					WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("3"))
			},
			run: func(t *testing.T, s *SQL) {
				v, err := s.Get(ctx, "meta")
				require.NoError(t, err)
				assert.Equal(t, "3", v)
			},
		},
		{
			name: "get missing key",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(getSQL)).
					WithArgs("missing").
					WillReturnError(sql.ErrNoRows)
			},
			run: func(t *testing.T, s *SQL) {
				_, err := s.Get(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name: "upsert",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO answercache_kv").
					WithArgs("k", "v").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			run: func(t *testing.T, s *SQL) {
				assert.NoError(t, s.Set(ctx, "k", "v"))
			},
		},
		{
			name: "disk full maps to quota exceeded",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO answercache_kv").
					WithArgs("k", "v").
					WillReturnError(&pq.Error{Code: "53100", Message: "could not extend file"})
			},
			run: func(t *testing.T, s *SQL) {
				assert.ErrorIs(t, s.Set(ctx, "k", "v"), ErrQuotaExceeded)
			},
		},
		{
			name: "remove",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM answercache_kv").
					WithArgs("k").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			run: func(t *testing.T, s *SQL) {
				assert.NoError(t, s.Remove(ctx, "k"))
			},
		},
		{
			name: "size",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(42)))
			},
			run: func(t *testing.T, s *SQL) {
				n, err := s.EstimateUsedBytes(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(42), n)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockSQL(t)
			tt.setupMock(mock)
			tt.run(t, s)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
