package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"gorm.io/gorm"
)

// EmbeddingRepository stores embedding records in the relational database,
// vectors as raw little-endian float32 blobs. Scan order is the
// auto-increment sequence, i.e. insertion order.
type EmbeddingRepository struct {
	db *gorm.DB
}

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// Put appends an embedding record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record to store; Seq is assigned by the database.
//
// Returns:
//   - error: non-nil if the kind is unknown or the insert fails.
func (r *EmbeddingRepository) Put(ctx context.Context, rec *domain.EmbeddingRecord) error {
	if !rec.Kind.Valid() {
		return fmt.Errorf("unknown embedding kind %q", rec.Kind)
	}
	rec.Dims = len(rec.Vector)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// Scan returns all records for (ownerID, kind) in insertion order.
func (r *EmbeddingRepository) Scan(ctx context.Context, ownerID string, kind domain.EmbeddingKind) ([]domain.EmbeddingRecord, error) {
	var records []domain.EmbeddingRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND kind = ?", ownerID, kind).
		Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	return records, nil
}

// ExistsForContent reports whether contentID already has a record of kind.
func (r *EmbeddingRepository) ExistsForContent(ctx context.Context, contentID string, kind domain.EmbeddingKind) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.EmbeddingRecord{}).
		Where("content_id = ? AND kind = ?", contentID, kind).
		Count(&count).Error
	return count > 0, err
}

// DeleteByContentIDs removes the records of the given posts.
func (r *EmbeddingRepository) DeleteByContentIDs(ctx context.Context, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("content_id IN ?", contentIDs).
		Delete(&domain.EmbeddingRecord{}).Error
}
