package repository

import (
	"context"
	"time"

	"github.com/timmy/ecosync/internal/domain"
)

// VectorStore persists embedding records and scans them by owner and kind.
// Scan returns records in insertion order; duplicate detection relies on
// that order to break score ties deterministically.
type VectorStore interface {
	// Put appends a record. Dims is derived from the vector.
	Put(ctx context.Context, rec *domain.EmbeddingRecord) error

	// Scan returns every record of kind owned by ownerID, oldest first.
	Scan(ctx context.Context, ownerID string, kind domain.EmbeddingKind) ([]domain.EmbeddingRecord, error)

	// ExistsForContent reports whether a record of kind exists for contentID.
	ExistsForContent(ctx context.Context, contentID string, kind domain.EmbeddingKind) (bool, error)

	// DeleteByContentIDs removes all records belonging to the given posts.
	DeleteByContentIDs(ctx context.Context, contentIDs []string) error
}

// PostStore persists posts.
type PostStore interface {
	Create(ctx context.Context, post *domain.Post) error
	Update(ctx context.Context, post *domain.Post) error
	GetByID(ctx context.Context, id string) (*domain.Post, error)
	List(ctx context.Context, limit, offset int) ([]domain.Post, error)
	ListByStatus(ctx context.Context, status domain.PostStatus, limit int) ([]domain.Post, error)
	ListRejectedBefore(ctx context.Context, cutoff time.Time) ([]domain.Post, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	// ExistsByMediaKey reports whether any post still references an object key.
	ExistsByMediaKey(ctx context.Context, key string) (bool, error)
}

// CreditLedger mutates per-user balances. Every call is atomic and the
// balance never drops below zero.
type CreditLedger interface {
	// Adjust applies a signed delta, flooring the result at zero.
	Adjust(ctx context.Context, userID string, delta int) (int, error)

	// Balance returns the current balance, zero for unknown users.
	Balance(ctx context.Context, userID string) (int, error)

	// Redeem subtracts amount, failing with domain.ErrInsufficientCredits
	// when the balance is smaller than amount.
	Redeem(ctx context.Context, userID string, amount int) (int, error)
}

// LostFoundStore persists lost & found reports.
type LostFoundStore interface {
	Create(ctx context.Context, item *domain.LostFoundItem) error
	Update(ctx context.Context, item *domain.LostFoundItem) error
	GetByID(ctx context.Context, id string) (*domain.LostFoundItem, error)
	List(ctx context.Context, limit int) ([]domain.LostFoundItem, error)
	// FindDuplicate returns nil, nil when no matching report exists.
	FindDuplicate(ctx context.Context, userID, title, description string) (*domain.LostFoundItem, error)
}

// Stores groups the stores that must change together.
type Stores struct {
	Posts     PostStore
	Ledger    CreditLedger
	Vectors   VectorStore
	LostFound LostFoundStore
}

// UnitOfWork runs a function against stores bound to one transaction.
// If fn returns an error, every write made through tx is rolled back.
type UnitOfWork interface {
	Stores() Stores
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}
