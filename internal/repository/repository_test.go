package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestCreditRepositoryAdjustFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t))

	steps := []struct {
		delta int
		want  int
	}{
		{delta: 10, want: 10},
		{delta: -3, want: 7},
		{delta: -20, want: 0},
		{delta: 5, want: 5},
	}
	for i, step := range steps {
		got, err := repo.Adjust(ctx, "u1", step.delta)
		if err != nil {
			t.Fatalf("step %d: Adjust: %v", i, err)
		}
		if got != step.want {
			t.Errorf("step %d: balance = %d, want %d", i, got, step.want)
		}
	}

	balance, err := repo.Balance(ctx, "nobody")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("unknown user balance = %d, want 0", balance)
	}
}

func TestCreditRepositoryRedeem(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditRepository(newTestDB(t))
	if _, err := repo.Adjust(ctx, "u1", 12); err != nil {
		t.Fatalf("Adjust: %v", err)
	}

	tests := []struct {
		name    string
		amount  int
		wantErr error
		want    int
	}{
		{name: "zero amount", amount: 0, wantErr: domain.ErrInvalidAmount},
		{name: "covered", amount: 5, want: 7},
		{name: "insufficient", amount: 8, wantErr: domain.ErrInsufficientCredits},
		{name: "exact balance", amount: 7, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Redeem(ctx, "u1", tt.amount)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Redeem error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Redeem: %v", err)
			}
			if got != tt.want {
				t.Errorf("balance = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCreditRepositoryConcurrentAdjustAndRedeem(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         fmt.Sprintf("file:%s?_busy_timeout=10000&_txlock=immediate", path),
		MaxOpenConns: 4,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	repo := NewCreditRepository(db)

	const adjusts, redeems = 40, 60
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		redeemed int
		errs     []error
	)
	record := func(balance int, err error, redeem bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case redeem && errors.Is(err, domain.ErrInsufficientCredits):
		case err != nil:
			errs = append(errs, err)
		case balance < 0:
			errs = append(errs, fmt.Errorf("balance went negative: %d", balance))
		case redeem:
			redeemed++
		}
	}
	for i := 0; i < adjusts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			balance, err := repo.Adjust(ctx, "u1", 1)
			record(balance, err, false)
		}()
	}
	for i := 0; i < redeems; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			balance, err := repo.Redeem(ctx, "u1", 1)
			record(balance, err, true)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		t.Error(err)
	}
	if redeemed > adjusts {
		t.Errorf("redeemed %d credits, only %d were granted", redeemed, adjusts)
	}
	balance, err := repo.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if want := adjusts - redeemed; balance != want {
		t.Errorf("balance = %d, want %d (%d granted, %d redeemed)", balance, want, adjusts, redeemed)
	}
}

func TestEmbeddingRepositoryScanOrderAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewEmbeddingRepository(newTestDB(t))

	inputs := []domain.EmbeddingRecord{
		{OwnerID: "u1", ContentID: "p1", Kind: domain.EmbeddingKindSemantic, Vector: domain.Vector{0.25, -1, 3.5}},
		{OwnerID: "u2", ContentID: "p2", Kind: domain.EmbeddingKindSemantic, Vector: domain.Vector{1, 1}},
		{OwnerID: "u1", ContentID: "p3", Kind: domain.EmbeddingKindPerceptualHash, Vector: domain.Vector{1, 0}},
		{OwnerID: "u1", ContentID: "p4", Kind: domain.EmbeddingKindSemantic, Vector: domain.Vector{0, 2}},
	}
	for i := range inputs {
		if err := repo.Put(ctx, &inputs[i]); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	records, err := repo.Scan(ctx, "u1", domain.EmbeddingKindSemantic)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Scan returned %d records, want 2", len(records))
	}
	if records[0].ContentID != "p1" || records[1].ContentID != "p4" {
		t.Errorf("Scan order = [%s %s], want [p1 p4]", records[0].ContentID, records[1].ContentID)
	}
	if records[0].Dims != 3 {
		t.Errorf("Dims = %d, want 3", records[0].Dims)
	}
	want := []float32{0.25, -1, 3.5}
	for i, v := range want {
		if records[0].Vector[i] != v {
			t.Errorf("Vector[%d] = %v, want %v", i, records[0].Vector[i], v)
		}
	}

	exists, err := repo.ExistsForContent(ctx, "p3", domain.EmbeddingKindPerceptualHash)
	if err != nil || !exists {
		t.Errorf("ExistsForContent(p3) = %v, %v; want true", exists, err)
	}

	if err := repo.DeleteByContentIDs(ctx, []string{"p1"}); err != nil {
		t.Fatalf("DeleteByContentIDs: %v", err)
	}
	records, _ = repo.Scan(ctx, "u1", domain.EmbeddingKindSemantic)
	if len(records) != 1 || records[0].ContentID != "p4" {
		t.Errorf("after delete got %+v, want only p4", records)
	}

	if err := repo.Put(ctx, &domain.EmbeddingRecord{OwnerID: "u1", ContentID: "x", Kind: "bogus", Vector: domain.Vector{1}}); err == nil {
		t.Error("Put with unknown kind should fail")
	}
}

func TestLostFoundRepositoryFindDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewLostFoundRepository(newTestDB(t))

	item := &domain.LostFoundItem{ID: "lf1", UserID: "u1", Title: "Blue Wallet", Description: "Found near the pier", Status: domain.LostFoundStatusOpen}
	if err := repo.Create(ctx, item); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name        string
		userID      string
		title       string
		description string
		wantFound   bool
	}{
		{name: "same text", userID: "u1", title: "Blue Wallet", description: "Found near the pier", wantFound: true},
		{name: "case and spaces", userID: "u1", title: "  blue wallet ", description: "FOUND NEAR THE PIER", wantFound: true},
		{name: "other user", userID: "u2", title: "Blue Wallet", description: "Found near the pier"},
		{name: "other description", userID: "u1", title: "Blue Wallet", description: "Found at the park"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindDuplicate(ctx, tt.userID, tt.title, tt.description)
			if err != nil {
				t.Fatalf("FindDuplicate: %v", err)
			}
			if (got != nil) != tt.wantFound {
				t.Errorf("found = %v, want %v", got != nil, tt.wantFound)
			}
		})
	}
}

func TestPostRepositoryListRejectedBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewPostRepository(newTestDB(t))
	now := time.Now().UTC()

	posts := []*domain.Post{
		{ID: "old-rejected", UserID: "u1", Status: domain.PostStatusRejected, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "new-rejected", UserID: "u1", Status: domain.PostStatusRejected, CreatedAt: now.Add(-time.Hour)},
		{ID: "old-verified", UserID: "u1", Status: domain.PostStatusVerified, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, p := range posts {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create %s: %v", p.ID, err)
		}
	}

	stale, err := repo.ListRejectedBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListRejectedBefore: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "old-rejected" {
		t.Errorf("ListRejectedBefore = %+v, want [old-rejected]", stale)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGormUnitOfWorkRollsBack(t *testing.T) {
	ctx := context.Background()
	uow := NewGormUnitOfWork(newTestDB(t), nil)
	boom := errors.New("boom")

	err := uow.WithinTx(ctx, func(ctx context.Context, tx Stores) error {
		if err := tx.Posts.Create(ctx, &domain.Post{ID: "p1", UserID: "u1", Status: domain.PostStatusVerified}); err != nil {
			return err
		}
		if _, err := tx.Ledger.Adjust(ctx, "u1", 10); err != nil {
			return err
		}
		if err := tx.Vectors.Put(ctx, &domain.EmbeddingRecord{OwnerID: "u1", ContentID: "p1", Kind: domain.EmbeddingKindSemantic, Vector: domain.Vector{1}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}

	stores := uow.Stores()
	if _, err := stores.Posts.GetByID(ctx, "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("post survived rollback: %v", err)
	}
	if balance, _ := stores.Ledger.Balance(ctx, "u1"); balance != 0 {
		t.Errorf("balance = %d after rollback, want 0", balance)
	}
	if records, _ := stores.Vectors.Scan(ctx, "u1", domain.EmbeddingKindSemantic); len(records) != 0 {
		t.Errorf("embeddings survived rollback: %d", len(records))
	}

	err = uow.WithinTx(ctx, func(ctx context.Context, tx Stores) error {
		if err := tx.Posts.Create(ctx, &domain.Post{ID: "p2", UserID: "u1", Status: domain.PostStatusVerified}); err != nil {
			return err
		}
		_, err := tx.Ledger.Adjust(ctx, "u1", 10)
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx commit: %v", err)
	}
	if balance, _ := stores.Ledger.Balance(ctx, "u1"); balance != 10 {
		t.Errorf("balance = %d after commit, want 10", balance)
	}
}
