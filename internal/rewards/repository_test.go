package rewards

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestRepositoryGetPoolMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery("SELECT contract_id, balance, created_at, updated_at FROM reward_pools WHERE contract_id = \\$1").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"contract_id", "balance", "created_at", "updated_at"}))

	pool, err := repo.GetPool(context.Background(), 1)

	assert.NoError(t, err)
	assert.Nil(t, pool)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreatePoolConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectExec("INSERT INTO reward_pools").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.CreatePool(context.Background(), &Pool{ContractID: 1, Balance: 10})

	assert.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryDecrementIsConditional(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectExec("UPDATE reward_pools SET").
		WithArgs(int64(40), sqlmock.AnyArg(), int64(1), int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DecrementPool(context.Background(), 1, 40)

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryTotalReserved(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(balance\\), 0\\) FROM reward_pools").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(1234)))

	total, err := repo.TotalReserved(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, uint64(1234), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
