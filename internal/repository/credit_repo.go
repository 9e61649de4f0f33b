package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditRepository is the SQL-backed credit ledger.
// Each mutation is a single conditional UPDATE inside a transaction, so
// concurrent adjustments of one balance never lose updates.
type CreditRepository struct {
	db *gorm.DB
}

// NewCreditRepository creates a new CreditRepository.
func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Adjust applies delta to the user's balance, flooring at zero.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: ledger owner; the row is created on first use.
//   - delta: signed credit change.
//
// Returns:
//   - int: balance after the change.
//   - error: non-nil if the update fails.
func (r *CreditRepository) Adjust(ctx context.Context, userID string, delta int) (int, error) {
	var balance int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureCreditRow(tx, userID); err != nil {
			return err
		}
		if err := tx.Model(&domain.UserCredit{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"credits":    gorm.Expr("CASE WHEN credits + ? < 0 THEN 0 ELSE credits + ? END", delta, delta),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("failed to adjust credits: %w", err)
		}
		var err error
		balance, err = readBalance(tx, userID)
		return err
	})
	return balance, err
}

// Balance returns the user's balance, zero if the user has no ledger row.
func (r *CreditRepository) Balance(ctx context.Context, userID string) (int, error) {
	return readBalance(r.db.WithContext(ctx), userID)
}

// Redeem subtracts amount when the balance covers it.
func (r *CreditRepository) Redeem(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	var balance int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.UserCredit{}).
			Where("user_id = ? AND credits >= ?", userID, amount).
			Updates(map[string]interface{}{
				"credits":    gorm.Expr("credits - ?", amount),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to redeem credits: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrInsufficientCredits
		}
		var err error
		balance, err = readBalance(tx, userID)
		return err
	})
	return balance, err
}

func ensureCreditRow(tx *gorm.DB, userID string) error {
	row := &domain.UserCredit{UserID: userID, Credits: 0, UpdatedAt: time.Now().UTC()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create credit row: %w", err)
	}
	return nil
}

func readBalance(db *gorm.DB, userID string) (int, error) {
	var row domain.UserCredit
	if err := db.Where("user_id = ?", userID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read credits: %w", err)
	}
	return row.Credits, nil
}
