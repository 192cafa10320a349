package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/gridshare/internal/db"
	"github.com/xtrntr/gridshare/internal/models"
)

// Engine is the only component that mutates resource status, borrower and
// user credit balances. Every mutation runs as one store transaction under
// the resource row lock, so an allocate or release either fully commits or
// leaves no trace.
type Engine struct {
	DB *db.DB
}

// NewEngine creates a new allocation engine
func NewEngine(database *db.DB) *Engine {
	return &Engine{DB: database}
}

// Allocate reserves an available resource for a consumer, creates the loan
// transaction and transfers the full upfront cost (credits_per_hour * hours)
// from consumer to owner. Credits are conserved: the amount debited equals
// the amount credited. The stored end_time is the planned expiry; it is
// informational, not enforced.
//
// Returns the id of the new transaction.
func (e *Engine) Allocate(ctx context.Context, resourceID, consumerID int, hours float64) (int, error) {
	if hours <= 0 {
		return 0, fmt.Errorf("hours must be positive: %w", models.ErrInvalidArgument)
	}

	var transactionID int
	err := e.DB.WithResourceLock(ctx, resourceID, func(tx *db.LockedTx, res *models.Resource) error {
		if res.Status != models.StatusAvailable {
			return fmt.Errorf("resource %d is %s: %w", res.ID, res.Status, models.ErrResourceUnavailable)
		}

		totalCost := res.CreditsPerHour * hours
		now := time.Now()
		plannedEnd := now.Add(time.Duration(hours * float64(time.Hour)))

		if err := tx.DebitCredits(ctx, consumerID, totalCost); err != nil {
			return err
		}
		if err := tx.AddCredits(ctx, res.OwnerID, totalCost); err != nil {
			return err
		}

		var err error
		transactionID, err = tx.CreateTransaction(ctx, &models.Transaction{
			ResourceID: res.ID,
			ProviderID: res.OwnerID,
			ConsumerID: consumerID,
			Credits:    totalCost,
			StartTime:  now,
			EndTime:    &plannedEnd,
			Status:     models.TxActive,
		})
		if err != nil {
			return err
		}

		return tx.SetResourceStatus(ctx, res.ID, models.StatusInUse, &consumerID)
	})
	if err != nil {
		return 0, err
	}
	return transactionID, nil
}

// Release returns a borrowed resource to the pool and completes its active
// transaction. Only the current borrower may release; a second release of the
// same resource fails with ErrNotBorrower because the borrower is already
// cleared. No credits move on release: the cost was charged upfront and early
// or late return does not adjust it.
func (e *Engine) Release(ctx context.Context, resourceID, requesterID int) error {
	return e.DB.WithResourceLock(ctx, resourceID, func(tx *db.LockedTx, res *models.Resource) error {
		if res.Status != models.StatusInUse || res.BorrowedBy == nil || *res.BorrowedBy != requesterID {
			return fmt.Errorf("resource %d: %w", res.ID, models.ErrNotBorrower)
		}

		active, err := tx.ActiveTransaction(ctx, res.ID)
		if errors.Is(err, models.ErrNotFound) {
			// The in_use/borrowed_by state promises an active transaction.
			// Its absence means the store invariant was violated; surface it
			// instead of silently recovering.
			return fmt.Errorf("resource %d is in use with no active transaction: %w", res.ID, models.ErrInconsistentState)
		}
		if err != nil {
			return err
		}
		if active.ConsumerID != requesterID {
			return fmt.Errorf("resource %d active transaction consumer %d does not match borrower %d: %w",
				res.ID, active.ConsumerID, requesterID, models.ErrInconsistentState)
		}

		if err := tx.CompleteTransaction(ctx, active.ID, time.Now()); err != nil {
			return err
		}
		return tx.SetResourceStatus(ctx, res.ID, models.StatusAvailable, nil)
	})
}

// SetAvailability takes an owner's resource offline or brings it back. Only
// the owner may change it, and a resource that is currently lent out cannot
// be taken offline. Runs under the same resource lock as Allocate and
// Release, so it cannot race an in-flight allocation.
func (e *Engine) SetAvailability(ctx context.Context, resourceID, ownerID int, offline bool) error {
	return e.DB.WithResourceLock(ctx, resourceID, func(tx *db.LockedTx, res *models.Resource) error {
		if res.OwnerID != ownerID {
			return fmt.Errorf("resource %d: %w", res.ID, models.ErrNotOwner)
		}

		if offline {
			if res.Status != models.StatusAvailable {
				return fmt.Errorf("resource %d is %s: %w", res.ID, res.Status, models.ErrResourceUnavailable)
			}
			return tx.SetResourceStatus(ctx, res.ID, models.StatusOffline, nil)
		}

		if res.Status != models.StatusOffline {
			return fmt.Errorf("resource %d is %s: %w", res.ID, res.Status, models.ErrResourceUnavailable)
		}
		return tx.SetResourceStatus(ctx, res.ID, models.StatusAvailable, nil)
	})
}
