package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"gorm.io/gorm"
)

const maxTxAttempts = 3

// WithTx runs fn in one transaction bound to ctx. The transaction rolls back
// when fn returns an error, panics, or ctx is cancelled before commit.
// Serialization failures and deadlocks rerun the whole closure; after the
// last attempt they surface as a Conflict.
func WithTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
	}
	return apperr.Wrap(apperr.KindConflict, err, "concurrent update, please retry")
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// IsForeignKeyViolation reports whether err comes from a blocked delete or a
// dangling reference. Requires GormConfig's TranslateError.
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, gorm.ErrForeignKeyViolated)
}

// NotFound converts gorm.ErrRecordNotFound into a NotFound business error and
// passes everything else through.
func NotFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}
