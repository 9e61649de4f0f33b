// Package memory provides an in-process implementation of the repository
// interfaces. It backs unit tests and single-binary demos; nothing is persisted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/repository"
)

type state struct {
	posts     map[string]domain.Post
	credits   map[string]int
	vectors   []domain.EmbeddingRecord
	lostFound map[string]domain.LostFoundItem
	seq       uint64
}

func (s *state) clone() *state {
	c := &state{
		posts:     make(map[string]domain.Post, len(s.posts)),
		credits:   make(map[string]int, len(s.credits)),
		vectors:   append([]domain.EmbeddingRecord(nil), s.vectors...),
		lostFound: make(map[string]domain.LostFoundItem, len(s.lostFound)),
		seq:       s.seq,
	}
	for k, v := range s.posts {
		c.posts[k] = v
	}
	for k, v := range s.credits {
		c.credits[k] = v
	}
	for k, v := range s.lostFound {
		c.lostFound[k] = v
	}
	return c
}

// Store is a thread-safe in-memory database implementing every store
// interface and repository.UnitOfWork.
type Store struct {
	mu sync.Mutex
	st *state

	// txMu serializes transactions so a rollback never discards writes
	// made by a concurrent transaction.
	txMu sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{st: &state{
		posts:     make(map[string]domain.Post),
		credits:   make(map[string]int),
		lostFound: make(map[string]domain.LostFoundItem),
	}}
}

// Stores returns views over the store.
func (s *Store) Stores() repository.Stores {
	return repository.Stores{
		Posts:     postView{s},
		Ledger:    ledgerView{s},
		Vectors:   vectorView{s},
		LostFound: lostFoundView{s},
	}
}

// WithinTx runs fn with snapshot-restore semantics: if fn fails the
// state is reset to what it was before fn started.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, s.Stores()); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// PostCount returns the number of stored posts.
func (s *Store) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.posts)
}

// VectorCount returns the number of stored embedding records.
func (s *Store) VectorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.vectors)
}

type postView struct{ s *Store }

func (v postView) Create(_ context.Context, post *domain.Post) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	now := time.Now().UTC()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	v.s.st.posts[post.ID] = *post
	return nil
}

func (v postView) Update(_ context.Context, post *domain.Post) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.st.posts[post.ID]; !ok {
		return domain.ErrNotFound
	}
	post.UpdatedAt = time.Now().UTC()
	v.s.st.posts[post.ID] = *post
	return nil
}

func (v postView) GetByID(_ context.Context, id string) (*domain.Post, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.st.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (v postView) sorted(desc bool, keep func(domain.Post) bool) []domain.Post {
	var out []domain.Post
	for _, p := range v.s.st.posts {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if desc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (v postView) List(_ context.Context, limit, offset int) ([]domain.Post, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	all := v.sorted(true, func(domain.Post) bool { return true })
	return page(all, limit, offset), nil
}

func (v postView) ListByStatus(_ context.Context, status domain.PostStatus, limit int) ([]domain.Post, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	all := v.sorted(false, func(p domain.Post) bool { return p.Status == status })
	return page(all, limit, 0), nil
}

func (v postView) ListRejectedBefore(_ context.Context, cutoff time.Time) ([]domain.Post, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.sorted(false, func(p domain.Post) bool {
		return p.Status == domain.PostStatusRejected && p.CreatedAt.Before(cutoff)
	}), nil
}

func (v postView) DeleteByIDs(_ context.Context, ids []string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, id := range ids {
		delete(v.s.st.posts, id)
	}
	return nil
}

func (v postView) ExistsByMediaKey(_ context.Context, key string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, p := range v.s.st.posts {
		if p.MediaKey == key {
			return true, nil
		}
	}
	return false, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type ledgerView struct{ s *Store }

func (v ledgerView) Adjust(_ context.Context, userID string, delta int) (int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	next := v.s.st.credits[userID] + delta
	if next < 0 {
		next = 0
	}
	v.s.st.credits[userID] = next
	return next, nil
}

func (v ledgerView) Balance(_ context.Context, userID string) (int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.st.credits[userID], nil
}

func (v ledgerView) Redeem(_ context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cur := v.s.st.credits[userID]
	if cur < amount {
		return cur, domain.ErrInsufficientCredits
	}
	v.s.st.credits[userID] = cur - amount
	return cur - amount, nil
}

type vectorView struct{ s *Store }

func (v vectorView) Put(_ context.Context, rec *domain.EmbeddingRecord) error {
	if !rec.Kind.Valid() {
		return fmt.Errorf("unknown embedding kind %q", rec.Kind)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.st.seq++
	rec.Seq = v.s.st.seq
	rec.Dims = len(rec.Vector)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	stored := *rec
	stored.Vector = append(domain.Vector(nil), rec.Vector...)
	v.s.st.vectors = append(v.s.st.vectors, stored)
	return nil
}

func (v vectorView) Scan(_ context.Context, ownerID string, kind domain.EmbeddingKind) ([]domain.EmbeddingRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []domain.EmbeddingRecord
	for _, rec := range v.s.st.vectors {
		if rec.OwnerID == ownerID && rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (v vectorView) ExistsForContent(_ context.Context, contentID string, kind domain.EmbeddingKind) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, rec := range v.s.st.vectors {
		if rec.ContentID == contentID && rec.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (v vectorView) DeleteByContentIDs(_ context.Context, contentIDs []string) error {
	drop := make(map[string]bool, len(contentIDs))
	for _, id := range contentIDs {
		drop[id] = true
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	kept := v.s.st.vectors[:0:0]
	for _, rec := range v.s.st.vectors {
		if !drop[rec.ContentID] {
			kept = append(kept, rec)
		}
	}
	v.s.st.vectors = kept
	return nil
}

type lostFoundView struct{ s *Store }

func (v lostFoundView) Create(_ context.Context, item *domain.LostFoundItem) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	v.s.st.lostFound[item.ID] = *item
	return nil
}

func (v lostFoundView) Update(_ context.Context, item *domain.LostFoundItem) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.st.lostFound[item.ID]; !ok {
		return domain.ErrNotFound
	}
	item.UpdatedAt = time.Now().UTC()
	v.s.st.lostFound[item.ID] = *item
	return nil
}

func (v lostFoundView) GetByID(_ context.Context, id string) (*domain.LostFoundItem, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	item, ok := v.s.st.lostFound[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (v lostFoundView) List(_ context.Context, limit int) ([]domain.LostFoundItem, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]domain.LostFoundItem, 0, len(v.s.st.lostFound))
	for _, item := range v.s.st.lostFound {
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, 0), nil
}

func (v lostFoundView) FindDuplicate(_ context.Context, userID, title, description string) (*domain.LostFoundItem, error) {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, item := range v.s.st.lostFound {
		if item.UserID == userID && norm(item.Title) == norm(title) && norm(item.Description) == norm(description) {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

var _ repository.UnitOfWork = (*Store)(nil)
