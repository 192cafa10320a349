package db

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/gridshare/internal/models"

	"github.com/jackc/pgx/v5"
)

// LockedTx exposes the mutations the allocation engine performs while holding
// a resource row lock. Values are only handed out by WithResourceLock, so
// every method here runs inside that store transaction.
type LockedTx struct {
	tx pgx.Tx
}

// WithResourceLock begins a store transaction, locks the resource row with
// SELECT ... FOR UPDATE, and runs fn with the locked transaction and the
// current state of the resource. The transaction commits only if fn returns
// nil; any error rolls back every mutation fn made. The row lock serializes
// concurrent allocate/release/status calls on the same resource, so two
// callers can never both observe it as available.
func (db *DB) WithResourceLock(ctx context.Context, resourceID int, fn func(tx *LockedTx, res *models.Resource) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return mapErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	res, err := scanResource(tx.QueryRow(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE id = $1 FOR UPDATE", resourceID))
	if err != nil {
		return mapErr(fmt.Sprintf("lock resource %d", resourceID), err)
	}

	if err := fn(&LockedTx{tx: tx}, res); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr("commit transaction", err)
	}
	return nil
}

// DebitCredits subtracts amount from a user's balance. The balance check and
// the update are a single conditional statement, so the debit can never drive
// the balance negative.
func (l *LockedTx) DebitCredits(ctx context.Context, userID int, amount float64) error {
	tag, err := l.tx.Exec(ctx,
		"UPDATE users SET credits = credits - $2 WHERE id = $1 AND credits >= $2",
		userID, amount)
	if err != nil {
		return mapErr(fmt.Sprintf("debit user %d", userID), err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := l.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists); err != nil {
			return mapErr(fmt.Sprintf("debit user %d", userID), err)
		}
		if !exists {
			return fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
		}
		return fmt.Errorf("user %d: %w", userID, models.ErrInsufficientCredits)
	}
	return nil
}

// AddCredits adds amount to a user's balance
func (l *LockedTx) AddCredits(ctx context.Context, userID int, amount float64) error {
	tag, err := l.tx.Exec(ctx,
		"UPDATE users SET credits = credits + $2 WHERE id = $1", userID, amount)
	if err != nil {
		return mapErr(fmt.Sprintf("credit user %d", userID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	return nil
}

// CreateTransaction inserts a new loan record and returns its id
func (l *LockedTx) CreateTransaction(ctx context.Context, t *models.Transaction) (int, error) {
	var id int
	err := l.tx.QueryRow(ctx,
		"INSERT INTO transactions (resource_id, provider_id, consumer_id, credits, start_time, end_time, status) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id",
		t.ResourceID, t.ProviderID, t.ConsumerID, t.Credits, t.StartTime, t.EndTime, t.Status).Scan(&id)
	if err != nil {
		return 0, mapErr("create transaction", err)
	}
	return id, nil
}

// ActiveTransaction finds the resource's active loan, or ErrNotFound when
// there is none.
func (l *LockedTx) ActiveTransaction(ctx context.Context, resourceID int) (*models.Transaction, error) {
	t, err := scanTransaction(l.tx.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE resource_id = $1 AND status = 'active'", resourceID))
	if err != nil {
		return nil, mapErr(fmt.Sprintf("active transaction for resource %d", resourceID), err)
	}
	return t, nil
}

// CompleteTransaction closes a loan, setting the actual end time
func (l *LockedTx) CompleteTransaction(ctx context.Context, transactionID int, end time.Time) error {
	tag, err := l.tx.Exec(ctx,
		"UPDATE transactions SET status = 'completed', end_time = $2 WHERE id = $1 AND status = 'active'",
		transactionID, end)
	if err != nil {
		return mapErr(fmt.Sprintf("complete transaction %d", transactionID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %d not active: %w", transactionID, models.ErrInconsistentState)
	}
	return nil
}

// SetResourceStatus updates a resource's status and borrower and touches
// last_active
func (l *LockedTx) SetResourceStatus(ctx context.Context, resourceID int, status string, borrowedBy *int) error {
	tag, err := l.tx.Exec(ctx,
		"UPDATE resources SET status = $2, borrowed_by = $3, last_active = NOW() WHERE id = $1",
		resourceID, status, borrowedBy)
	if err != nil {
		return mapErr(fmt.Sprintf("set resource %d status", resourceID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %d: %w", resourceID, models.ErrNotFound)
	}
	return nil
}
