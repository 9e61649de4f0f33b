package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/timmy/ecosync/internal/domain"
)

func TestLocalScopeLockerSerializesScope(t *testing.T) {
	l := NewLocalScopeLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "u1", domain.EmbeddingKindSemantic)
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max holders = %d, want 1", maxInside)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.slots) != 0 {
		t.Errorf("slots leaked: %d", len(l.slots))
	}
}

func TestLocalScopeLockerIndependentScopes(t *testing.T) {
	l := NewLocalScopeLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "u1", domain.EmbeddingKindSemantic)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	for _, scope := range []struct {
		owner string
		kind  domain.EmbeddingKind
	}{
		{"u2", domain.EmbeddingKindSemantic},
		{"u1", domain.EmbeddingKindPerceptualHash},
	} {
		other, err := l.Lock(ctx, scope.owner, scope.kind)
		if err != nil {
			t.Fatalf("Lock(%s, %s): %v", scope.owner, scope.kind, err)
		}
		other()
	}

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(timeout, "u1", domain.EmbeddingKindSemantic); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock on held scope error = %v, want deadline exceeded", err)
	}

	unlock()
	unlock() // second call is a no-op
	again, err := l.Lock(ctx, "u1", domain.EmbeddingKindSemantic)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()
}

func TestNewScopeLockerWithoutRedis(t *testing.T) {
	locker, rdb := NewScopeLocker("", time.Second)
	if rdb != nil {
		t.Error("unexpected redis client")
	}
	if _, ok := locker.(*LocalScopeLocker); !ok {
		t.Errorf("locker = %T, want *LocalScopeLocker", locker)
	}

	locker, rdb = NewScopeLocker("not a url", time.Second)
	if rdb != nil {
		t.Error("unexpected redis client for invalid url")
	}
	if _, ok := locker.(*LocalScopeLocker); !ok {
		t.Errorf("locker = %T, want *LocalScopeLocker", locker)
	}
}
