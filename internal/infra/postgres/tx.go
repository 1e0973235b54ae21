package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// txContextKey is the key used to store transactions in context.
	txContextKey contextKey = "tx"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting repositories
// take whichever one GetDBTX hands back without caring which.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager manages database transactions.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a new transaction manager.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithTx executes a function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
//
// Example usage:
//
//	err := txManager.WithTx(ctx, func(ctx context.Context) error {
//	    if err := collectionRepo.AtomicAddImage(ctx, collectionID, img); err != nil {
//	        return err
//	    }
//	    return jobStateRepo.IncrementCompleted(ctx, jobID, img.ID, img.FileSize)
//	})
func (tm *TxManager) WithTx(ctx context.Context, fn func(context.Context) error) error {
	// Already in a transaction: just execute the function.
	if GetTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := tm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	ctx = context.WithValue(ctx, txContextKey, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTx retrieves the transaction from context, if present.
// Returns nil if no transaction is active.
func GetTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// GetDBTX returns either the transaction from context (if active) or the pool.
// This is a convenience function for repositories to use the appropriate database connection.
//
// Usage in repositories:
//
//	func (r *Repository) Save(ctx context.Context, entity *Entity) error {
//	    db := postgres.GetDBTX(ctx, r.pool)
//	    // ... db.Exec/Query/QueryRow
//	}
func GetDBTX(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx := GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
