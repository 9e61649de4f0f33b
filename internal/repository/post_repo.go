package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"gorm.io/gorm"
)

// PostRepository handles post data operations.
type PostRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new PostRepository.
// Parameters:
//   - db: GORM database handle (or transaction) used for queries.
//
// Returns:
//   - *PostRepository: repository instance bound to db.
func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

// Create inserts a new post record.
func (r *PostRepository) Create(ctx context.Context, post *domain.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

// Update saves every column of an existing post.
func (r *PostRepository) Update(ctx context.Context, post *domain.Post) error {
	return r.db.WithContext(ctx).Save(post).Error
}

// GetByID retrieves a post by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: post ID.
//
// Returns:
//   - *domain.Post: post record if found.
//   - error: domain.ErrNotFound if no post has this ID.
func (r *PostRepository) GetByID(ctx context.Context, id string) (*domain.Post, error) {
	var post domain.Post
	if err := r.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

// List returns posts newest first.
func (r *PostRepository) List(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	return posts, err
}

// ListByStatus returns posts with the given status, oldest first.
func (r *PostRepository) ListByStatus(ctx context.Context, status domain.PostStatus, limit int) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// ListRejectedBefore returns rejected posts created strictly before cutoff.
func (r *PostRepository) ListRejectedBefore(ctx context.Context, cutoff time.Time) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.PostStatusRejected, cutoff.UTC()).
		Find(&posts).Error
	return posts, err
}

// DeleteByIDs removes the given posts.
func (r *PostRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Post{}).Error
}

// ExistsByMediaKey checks whether a post references the media object.
func (r *PostRepository) ExistsByMediaKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Post{}).
		Where("media_key = ?", key).
		Count(&count).Error
	return count > 0, err
}
