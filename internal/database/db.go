package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the stores care about
const (
	codeNotNullViolation    = "23502"
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// MapPostgresError converts driver errors into model sentinels. A foreign key
// violation means the referenced user no longer exists.
func MapPostgresError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeUniqueViolation:
		return models.ErrConflict
	case codeForeignKeyViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrNotFound)
	case codeNotNullViolation, codeCheckViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrBadRequest)
	}
	return err
}

// IsRetryable reports whether err is a transient conflict between
// concurrent transactions.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerialization || pgErr.Code == codeDeadlock
}

// maxTxAttempts bounds how often WithTransaction re-runs fn after a
// serialization failure or deadlock
const maxTxAttempts = 3

// WithTransaction runs fn in a transaction, committing on nil and rolling
// back otherwise. fn is re-run from scratch when the transaction loses a
// serialization conflict, so it must not have side effects outside tx.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.runTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		db.logger.Warn("retrying transaction after conflict", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return err
}

func (db *DB) runTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return fn(tx)
}

// LockKey takes a transaction-scoped advisory lock on key. Writers that must
// not interleave for the same key (for example issuing a challenge for one
// user and purpose) serialise on it until commit.
func LockKey(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("unable to take advisory lock: %w", err)
	}
	return nil
}
