package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/repository"
)

// LostFoundService files found-item reports and rewards returned items.
type LostFoundService struct {
	uow    repository.UnitOfWork
	reward int
}

// NewLostFoundService creates a LostFoundService. reward is credited to the
// reporter once, when an item is marked returned.
func NewLostFoundService(uow repository.UnitOfWork, reward int) *LostFoundService {
	if reward < 0 {
		reward = 0
	}
	return &LostFoundService{uow: uow, reward: reward}
}

// ReportRequest is a new lost & found report.
type ReportRequest struct {
	UserID      string
	Title       string
	Description string
	Location    string
	Contact     string
	ImageURL    string
}

// Report creates an open report. The same user filing a report with the
// same title and description (ignoring case and surrounding spaces) gets
// domain.ErrDuplicateReport.
func (s *LostFoundService) Report(ctx context.Context, req *ReportRequest) (*domain.LostFoundItem, error) {
	item := &domain.LostFoundItem{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Location:    req.Location,
		Contact:     req.Contact,
		ImageURL:    req.ImageURL,
		Status:      domain.LostFoundStatusOpen,
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		dup, err := tx.LostFound.FindDuplicate(ctx, item.UserID, item.Title, item.Description)
		if err != nil {
			return fmt.Errorf("failed to check duplicate report: %w", err)
		}
		if dup != nil {
			return domain.ErrDuplicateReport
		}
		return tx.LostFound.Create(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// List returns reports newest first.
func (s *LostFoundService) List(ctx context.Context, limit int) ([]domain.LostFoundItem, error) {
	return s.uow.Stores().LostFound.List(ctx, limit)
}

// UpdateStatus moves a report to status. The first transition to returned
// credits the reporter; later transitions never pay again.
func (s *LostFoundService) UpdateStatus(ctx context.Context, id string, status domain.LostFoundStatus) (*domain.LostFoundItem, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	var item *domain.LostFoundItem
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		var err error
		item, err = tx.LostFound.GetByID(ctx, id)
		if err != nil {
			return err
		}
		item.Status = status
		award := status == domain.LostFoundStatusReturned && item.CreditsAwarded == 0 && s.reward > 0
		if award {
			item.CreditsAwarded = s.reward
		}
		if err := tx.LostFound.Update(ctx, item); err != nil {
			return fmt.Errorf("failed to update report: %w", err)
		}
		if award {
			if _, err := tx.Ledger.Adjust(ctx, item.UserID, s.reward); err != nil {
				return fmt.Errorf("failed to credit reporter: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"report_id":        id,
		logger.FieldStatus: string(status),
		"credits":          item.CreditsAwarded,
	}).Info("Lost & found status updated")
	return item, nil
}
