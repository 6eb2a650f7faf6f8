package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/dataprep-api/internal/platform/logger"
)

// TxFn runs inside a transaction. Returning an error rolls it back.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// AfterCommitFn runs once the transaction's rows are visible to other
// connections. Publishing a job message belongs here: a worker that picks
// the message up must be able to read the job.
type AfterCommitFn func(ctx context.Context) error

// RunInTransaction runs fn in a transaction and commits it, then runs
// afterCommit in order. Begin and commit failures wrap ErrTransactionFailed.
// An afterCommit error stops the remaining functions and is returned wrapped
// in ErrAfterCommit; the committed rows stay, and undoing them is up to the
// caller. A panic in fn rolls back and is re-raised.
func RunInTransaction(ctx context.Context, db TxBeginner, fn TxFn, afterCommit ...AfterCommitFn) error {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", slog.String("error", err.Error()))
		return fmt.Errorf("%w: begin: %w", ErrTransactionFailed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to roll back transaction after panic",
					slog.String("error", rbErr.Error()),
					slog.Any("panic", p))
			} else {
				log.Error("rolled back transaction after panic", slog.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back transaction",
				slog.String("rollback_error", rbErr.Error()),
				slog.String("original_error", err.Error()))
			return fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		log.Debug("rolled back transaction", slog.String("error", err.Error()))
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", slog.String("error", err.Error()))
		return fmt.Errorf("%w: commit: %w", ErrTransactionFailed, err)
	}

	for i, after := range afterCommit {
		if err := after(ctx); err != nil {
			log.Warn("post-commit step failed",
				slog.Int("step", i),
				slog.String("error", err.Error()))
			return fmt.Errorf("%w: %w", ErrAfterCommit, err)
		}
	}
	return nil
}
