package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openSQLite mirrors dbtest.Open, which this package cannot import.
func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)), GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestWithTxRetriesSerializationFailures(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		t.Run(code, func(t *testing.T) {
			db := openSQLite(t)

			attempts := 0
			err := WithTx(context.Background(), db, func(tx *gorm.DB) error {
				attempts++
				if attempts < maxTxAttempts {
					return &pgconn.PgError{Code: code}
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, maxTxAttempts, attempts)
		})
	}
}

func TestWithTxGivesUpAsConflict(t *testing.T) {
	db := openSQLite(t)

	attempts := 0
	err := WithTx(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		p := models.Product{Name: fmt.Sprintf("Flour %d", attempts), Unit: "kg", Cost: decimal.NewFromInt(1)}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	assert.Equal(t, maxTxAttempts, attempts)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "%v", err)

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "40001", pgErr.Code)

	// Every attempt rolled back.
	var n int64
	require.NoError(t, db.Model(&models.Product{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestWithTxDoesNotRetryOtherErrors(t *testing.T) {
	db := openSQLite(t)
	boom := errors.New("boom")

	attempts := 0
	err := WithTx(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = WithTx(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		return &pgconn.PgError{Code: "23505"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.False(t, apperr.Is(err, apperr.KindConflict))

	attempts = 0
	err = WithTx(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		return apperr.Validation("bad input")
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, 1, attempts)
}

func TestWithTxStopsOnCancelledContext(t *testing.T) {
	db := openSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	err := WithTx(ctx, db, func(tx *gorm.DB) error {
		attempts++
		cancel()
		return &pgconn.PgError{Code: "40001"}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, retryable(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, retryable(&pgconn.PgError{Code: "23503"}))
	assert.False(t, retryable(errors.New("plain")))
	assert.False(t, retryable(nil))
}
