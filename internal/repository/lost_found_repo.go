package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/timmy/ecosync/internal/domain"
	"gorm.io/gorm"
)

// LostFoundRepository handles lost & found report operations.
type LostFoundRepository struct {
	db *gorm.DB
}

// NewLostFoundRepository creates a new LostFoundRepository.
func NewLostFoundRepository(db *gorm.DB) *LostFoundRepository {
	return &LostFoundRepository{db: db}
}

func (r *LostFoundRepository) Create(ctx context.Context, item *domain.LostFoundItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *LostFoundRepository) Update(ctx context.Context, item *domain.LostFoundItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *LostFoundRepository) GetByID(ctx context.Context, id string) (*domain.LostFoundItem, error) {
	var item domain.LostFoundItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// List returns reports newest first.
func (r *LostFoundRepository) List(ctx context.Context, limit int) ([]domain.LostFoundItem, error) {
	var items []domain.LostFoundItem
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&items).Error
	return items, err
}

// FindDuplicate looks for a report by the same user whose title and
// description match case-insensitively after trimming.
func (r *LostFoundRepository) FindDuplicate(ctx context.Context, userID, title, description string) (*domain.LostFoundItem, error) {
	var item domain.LostFoundItem
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(TRIM(title)) = ? AND LOWER(TRIM(description)) = ?",
			userID,
			strings.ToLower(strings.TrimSpace(title)),
			strings.ToLower(strings.TrimSpace(description))).
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}
