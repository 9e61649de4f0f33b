package repository

import (
	"context"

	"gorm.io/gorm"
)

// GormUnitOfWork binds the SQL repositories to one database handle and
// runs multi-store operations inside a single transaction.
type GormUnitOfWork struct {
	db      *gorm.DB
	vectors VectorStore
}

// NewGormUnitOfWork creates a unit of work over db.
// Parameters:
//   - db: GORM database handle.
//   - vectors: optional external vector store (e.g. Qdrant); nil keeps
//     embeddings in the SQL database and inside the transaction.
//
// Returns:
//   - *GormUnitOfWork: unit of work bound to db.
func NewGormUnitOfWork(db *gorm.DB, vectors VectorStore) *GormUnitOfWork {
	return &GormUnitOfWork{db: db, vectors: vectors}
}

// Stores returns repositories outside any transaction.
func (u *GormUnitOfWork) Stores() Stores {
	return u.storesFor(u.db)
}

// WithinTx runs fn in a transaction. An external vector store does not
// take part in the transaction, so callers write vectors last.
func (u *GormUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, u.storesFor(tx))
	})
}

func (u *GormUnitOfWork) storesFor(db *gorm.DB) Stores {
	var vectors VectorStore = NewEmbeddingRepository(db)
	if u.vectors != nil {
		vectors = u.vectors
	}
	return Stores{
		Posts:     NewPostRepository(db),
		Ledger:    NewCreditRepository(db),
		Vectors:   vectors,
		LostFound: NewLostFoundRepository(db),
	}
}
