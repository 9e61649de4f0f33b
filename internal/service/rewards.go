package service

import (
	"context"

	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/repository"
)

// RewardService reads and redeems credit balances.
type RewardService struct {
	ledger repository.CreditLedger
}

// NewRewardService creates a RewardService.
func NewRewardService(ledger repository.CreditLedger) *RewardService {
	return &RewardService{ledger: ledger}
}

// Balance returns the user's credits, 0 for unknown users.
func (r *RewardService) Balance(ctx context.Context, userID string) (int, error) {
	return r.ledger.Balance(ctx, userID)
}

// Redemption is the outcome of a successful redeem.
type Redemption struct {
	UserID           string `json:"user_id"`
	Amount           int    `json:"amount"`
	RemainingCredits int    `json:"remaining_credits"`
	Note             string `json:"note,omitempty"`
}

// Redeem spends amount credits. It fails with domain.ErrInvalidAmount for
// amount <= 0 and domain.ErrInsufficientCredits when the balance is short.
func (r *RewardService) Redeem(ctx context.Context, userID string, amount int, note string) (*Redemption, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	remaining, err := r.ledger.Redeem(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldUserID: userID,
		"amount":           amount,
		"remaining":        remaining,
	}).Info("Credits redeemed")
	return &Redemption{UserID: userID, Amount: amount, RemainingCredits: remaining, Note: note}, nil
}
