package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/repository/memory"
	"github.com/timmy/ecosync/internal/storage"
)

func TestSubmit_PositiveVerdictAwardsReward(t *testing.T) {
	f := newFixture(t)
	f.assessor.set(Assessment{Verdict: true, Rationale: "yes, face + bin visible"})

	post := f.submit(t, "u1", "m1")

	if post.Status != domain.PostStatusVerified || !post.Verified {
		t.Errorf("status = %s, verified = %v; want verified", post.Status, post.Verified)
	}
	if post.CreditsAwarded != 10 {
		t.Errorf("credits = %d, want 10", post.CreditsAwarded)
	}
	if got := f.balance(t, "u1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	if f.store.VectorCount() != 1 {
		t.Errorf("vectors = %d, want 1", f.store.VectorCount())
	}
	if !strings.HasPrefix(post.MediaURL, "data:image/jpeg;base64,") {
		t.Errorf("media url = %q, want inline data url", post.MediaURL)
	}
	if paths := f.publisher.paths(); len(paths) != 1 || paths[0] != PathAssessor {
		t.Errorf("published paths = %v, want [%s]", paths, PathAssessor)
	}
}

func TestSubmit_DuplicateIsRejectedWithoutAssessment(t *testing.T) {
	f := newFixture(t)
	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})

	first := f.submit(t, "u1", "m1")
	second := f.submit(t, "u1", "m1")

	if second.Status != domain.PostStatusRejected {
		t.Fatalf("status = %s, want rejected", second.Status)
	}
	if second.CreditsAwarded != 0 {
		t.Errorf("credits = %d, want 0", second.CreditsAwarded)
	}
	if !strings.Contains(second.ReviewNotes, first.ID) {
		t.Errorf("notes %q do not reference %s", second.ReviewNotes, first.ID)
	}
	if got := f.balance(t, "u1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	if f.assessor.callCount() != 1 {
		t.Errorf("assessor calls = %d, want 1", f.assessor.callCount())
	}
	if f.store.VectorCount() != 1 {
		t.Errorf("vectors = %d, want 1", f.store.VectorCount())
	}

	// Another owner's identical photo is not a duplicate.
	other := f.submit(t, "u2", "m1")
	if other.Status != domain.PostStatusVerified {
		t.Errorf("other owner status = %s, want verified", other.Status)
	}
}

func TestSubmit_DuplicateThresholdIsStrict(t *testing.T) {
	f := newFixture(t)
	f.assessor.set(Assessment{Verdict: false, Rationale: "no"})
	// cos = 0.8 exactly between these two.
	f.embedder.vectors["a"] = []float32{1, 0}
	f.embedder.vectors["b"] = []float32{0.8, 0.6}

	f.submit(t, "u1", "a")
	post := f.submit(t, "u1", "b")
	if post.Status == domain.PostStatusRejected {
		t.Errorf("score at threshold must not count as duplicate: %s", post.ReviewNotes)
	}
}

func TestSubmit_AssessorOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		assessment  Assessment
		remote      RemoteDecision
		wantStatus  domain.PostStatus
		wantCredits int
		wantNotes   string
		wantPath    string
		wantRemote  int
	}{
		{
			name:       "offline without remote",
			assessment: Assessment{Rationale: RationaleOffline, Failure: AssessmentOffline},
			remote:     RemoteDecision{Failure: RemoteNotConfigured},
			wantStatus: domain.PostStatusPending,
			wantNotes:  RationaleOffline,
			wantPath:   PathUnassessed,
			wantRemote: 1,
		},
		{
			name:       "assessor error and remote unavailable",
			assessment: Assessment{Rationale: "gemini-error: connection reset", Failure: AssessmentServiceError},
			remote:     RemoteDecision{Failure: RemoteUnavailable, Response: VerifyResponse{Status: domain.PostStatusPending, Notes: NoteRemoteUnavailable}},
			wantStatus: domain.PostStatusPending,
			wantNotes:  NoteRemoteUnavailable,
			wantPath:   PathRemoteUnavailable,
			wantRemote: 1,
		},
		{
			name:        "remote verifies with credits",
			assessment:  Assessment{Rationale: RationaleOffline, Failure: AssessmentOffline},
			remote:      RemoteDecision{Response: VerifyResponse{Status: domain.PostStatusVerified, Notes: "Unique upload (learned-feature)", CreditsAwarded: 5}},
			wantStatus:  domain.PostStatusVerified,
			wantCredits: 5,
			wantNotes:   "Unique upload (learned-feature)",
			wantPath:    PathRemote,
			wantRemote:  1,
		},
		{
			name:       "remote rejects and its credits are ignored",
			assessment: Assessment{Rationale: "gemini-error: quota", Failure: AssessmentServiceError},
			remote:     RemoteDecision{Response: VerifyResponse{Status: domain.PostStatusRejected, Notes: "dup", CreditsAwarded: 3}},
			wantStatus: domain.PostStatusRejected,
			wantNotes:  "dup",
			wantPath:   PathRemote,
			wantRemote: 1,
		},
		{
			name:       "remote answer without notes keeps rationale",
			assessment: Assessment{Rationale: RationaleOffline, Failure: AssessmentOffline},
			remote:     RemoteDecision{Response: VerifyResponse{Status: domain.PostStatusPending}},
			wantStatus: domain.PostStatusPending,
			wantNotes:  RationaleOffline,
			wantPath:   PathRemote,
			wantRemote: 1,
		},
		{
			name:       "negative verdict stays pending",
			assessment: Assessment{Verdict: false, Rationale: "no face visible"},
			wantStatus: domain.PostStatusPending,
			wantNotes:  "no face visible",
			wantPath:   PathAssessor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.assessor.set(tt.assessment)
			f.remote.decision = tt.remote

			post := f.submit(t, "u1", "photo")

			if post.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", post.Status, tt.wantStatus)
			}
			if post.CreditsAwarded != tt.wantCredits {
				t.Errorf("credits = %d, want %d", post.CreditsAwarded, tt.wantCredits)
			}
			if got := f.balance(t, "u1"); got != tt.wantCredits {
				t.Errorf("balance = %d, want %d", got, tt.wantCredits)
			}
			if post.ReviewNotes != tt.wantNotes {
				t.Errorf("notes = %q, want %q", post.ReviewNotes, tt.wantNotes)
			}
			if post.AISummary != tt.assessment.Rationale {
				t.Errorf("summary = %q, want %q", post.AISummary, tt.assessment.Rationale)
			}
			if f.remote.calls != tt.wantRemote {
				t.Errorf("remote calls = %d, want %d", f.remote.calls, tt.wantRemote)
			}
			if f.store.VectorCount() != 1 {
				t.Errorf("vectors = %d, want 1", f.store.VectorCount())
			}
			if paths := f.publisher.paths(); len(paths) != 1 || paths[0] != tt.wantPath {
				t.Errorf("published paths = %v, want [%s]", paths, tt.wantPath)
			}
		})
	}
}

func TestSubmit_InvalidMedia(t *testing.T) {
	f := newFixture(t)
	for _, media := range []string{"", "%%%not-base64%%%"} {
		_, err := f.svc.Submit(context.Background(), &SubmitRequest{UserID: "u1", MediaBase64: media})
		if !errors.Is(err, domain.ErrInvalidMedia) {
			t.Errorf("Submit(%q) error = %v, want ErrInvalidMedia", media, err)
		}
	}
	if f.store.PostCount() != 0 || f.assessor.callCount() != 0 {
		t.Errorf("invalid media entered the pipeline: posts=%d assessor=%d", f.store.PostCount(), f.assessor.callCount())
	}
}

func TestSubmit_AcceptsDataURL(t *testing.T) {
	f := newFixture(t)
	post, err := f.svc.Submit(context.Background(), &SubmitRequest{
		UserID:      "u1",
		MediaBase64: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes")),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if post.MediaMIME != "image/png" {
		t.Errorf("mime = %q, want image/png", post.MediaMIME)
	}
}

func TestSubmit_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	objects := newMemObjects()
	f.svc.uow = failingLedgerUoW{f.store}
	f.svc.media = storage.NewMediaStore(objects, "posts")
	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})

	_, err := f.svc.Submit(context.Background(), &SubmitRequest{
		UserID:      "u1",
		MediaBase64: base64.StdEncoding.EncodeToString([]byte("m1")),
	})
	if err == nil {
		t.Fatal("Submit succeeded, want ledger error")
	}
	if f.store.PostCount() != 0 || f.store.VectorCount() != 0 {
		t.Errorf("partial write: posts=%d vectors=%d", f.store.PostCount(), f.store.VectorCount())
	}
	if objects.count() != 0 {
		t.Errorf("uploaded media not rolled back: %d objects", objects.count())
	}
	if len(f.publisher.paths()) != 0 {
		t.Error("event published for a rolled back post")
	}
}

func TestSubmit_PublishFailureIsNotSurfaced(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})

	post := f.submit(t, "u1", "m1")
	if post.Status != domain.PostStatusVerified {
		t.Errorf("status = %s, want verified", post.Status)
	}
}

func TestSubmit_ConcurrentDuplicatesAcceptOnlyOne(t *testing.T) {
	f := newFixture(t)
	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})

	const n = 8
	var wg sync.WaitGroup
	statuses := make([]domain.PostStatus, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			post, err := f.svc.Submit(context.Background(), &SubmitRequest{
				UserID:      "u1",
				MediaBase64: base64.StdEncoding.EncodeToString([]byte("same-photo")),
			})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			statuses[i] = post.Status
		}(i)
	}
	wg.Wait()

	verified := 0
	for _, s := range statuses {
		if s == domain.PostStatusVerified {
			verified++
		}
	}
	if verified != 1 {
		t.Errorf("verified = %d, want exactly 1 (%v)", verified, statuses)
	}
	if got := f.balance(t, "u1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestApproveAndReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assessor.set(Assessment{Rationale: "no"})
	post := f.submit(t, "u1", "m1")

	fifteen := 15
	steps := []struct {
		name        string
		run         func() (*domain.Post, error)
		wantStatus  domain.PostStatus
		wantCredits int
		wantBalance int
	}{
		{
			name:        "approve pending with 15",
			run:         func() (*domain.Post, error) { return f.svc.Approve(ctx, post.ID, &fifteen, "") },
			wantStatus:  domain.PostStatusVerified,
			wantCredits: 15,
			wantBalance: 15,
		},
		{
			name:        "approve again with same amount is a ledger no-op",
			run:         func() (*domain.Post, error) { return f.svc.Approve(ctx, post.ID, &fifteen, "again") },
			wantStatus:  domain.PostStatusVerified,
			wantCredits: 15,
			wantBalance: 15,
		},
		{
			name:        "approve with default lowers the award",
			run:         func() (*domain.Post, error) { return f.svc.Approve(ctx, post.ID, nil, "") },
			wantStatus:  domain.PostStatusVerified,
			wantCredits: 10,
			wantBalance: 10,
		},
		{
			name:        "reject reverses the award",
			run:         func() (*domain.Post, error) { return f.svc.Reject(ctx, post.ID, "") },
			wantStatus:  domain.PostStatusRejected,
			wantCredits: 0,
			wantBalance: 0,
		},
	}
	for _, step := range steps {
		got, err := step.run()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got.Status != step.wantStatus || got.CreditsAwarded != step.wantCredits {
			t.Errorf("%s: got %s/%d, want %s/%d", step.name, got.Status, got.CreditsAwarded, step.wantStatus, step.wantCredits)
		}
		if b := f.balance(t, "u1"); b != step.wantBalance {
			t.Errorf("%s: balance = %d, want %d", step.name, b, step.wantBalance)
		}
	}

	stored, _ := f.svc.GetPost(ctx, post.ID)
	if stored.ReviewNotes != defaultRejectNote {
		t.Errorf("notes = %q, want %q", stored.ReviewNotes, defaultRejectNote)
	}

	negative := -4
	approved, err := f.svc.Approve(ctx, post.ID, &negative, "")
	if err != nil {
		t.Fatalf("Approve negative: %v", err)
	}
	if approved.CreditsAwarded != 0 {
		t.Errorf("negative credits not clamped: %d", approved.CreditsAwarded)
	}

	if _, err := f.svc.Approve(ctx, "missing", nil, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Approve(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeletePostKeepsLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})
	post := f.submit(t, "u1", "m1")

	if err := f.svc.DeletePost(ctx, post.ID); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if f.store.PostCount() != 0 || f.store.VectorCount() != 0 {
		t.Errorf("posts=%d vectors=%d after delete", f.store.PostCount(), f.store.VectorCount())
	}
	if got := f.balance(t, "u1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	if err := f.svc.DeletePost(ctx, post.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestReverifyPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assessor.set(Assessment{Rationale: "gemini-error: timeout", Failure: AssessmentServiceError})
	f.remote.decision = RemoteDecision{Failure: RemoteUnavailable}

	pending := f.submit(t, "u1", "m1")
	if pending.Status != domain.PostStatusPending {
		t.Fatalf("status = %s, want pending", pending.Status)
	}

	// Still unusable: nothing changes.
	stats, err := f.svc.ReverifyPending(ctx, 10)
	if err != nil {
		t.Fatalf("ReverifyPending: %v", err)
	}
	if stats.Total != 1 || stats.StillPending != 1 {
		t.Errorf("stats = %+v, want 1 still pending", stats)
	}

	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})
	stats, err = f.svc.ReverifyPending(ctx, 10)
	if err != nil {
		t.Fatalf("ReverifyPending: %v", err)
	}
	if stats.Verified != 1 {
		t.Errorf("stats = %+v, want 1 verified", stats)
	}

	post, _ := f.svc.GetPost(ctx, pending.ID)
	if post.Status != domain.PostStatusVerified || post.CreditsAwarded != 10 {
		t.Errorf("post = %s/%d, want verified/10", post.Status, post.CreditsAwarded)
	}
	if got := f.balance(t, "u1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	if f.store.VectorCount() != 1 {
		t.Errorf("vectors = %d, want 1", f.store.VectorCount())
	}

	stats, _ = f.svc.ReverifyPending(ctx, 10)
	if stats.Total != 0 {
		t.Errorf("terminal post re-verified: %+v", stats)
	}
}

func TestReverifyPendingWorkers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.cfg.ReverifyWorkers = 3
	f.assessor.set(Assessment{Rationale: RationaleOffline, Failure: AssessmentOffline})
	f.remote.decision = RemoteDecision{Failure: RemoteUnavailable}

	users := []string{"u1", "u2", "u3"}
	for i := 0; i < 6; i++ {
		media := fmt.Sprintf("photo-%d", i)
		vec := make([]float32, 6)
		vec[i] = 1
		f.embedder.vectors[media] = vec
		f.submit(t, users[i%len(users)], media)
	}

	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})
	stats, err := f.svc.ReverifyPending(ctx, 100)
	if err != nil {
		t.Fatalf("ReverifyPending: %v", err)
	}
	if stats.Total != 6 || stats.Verified != 6 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 6 verified", stats)
	}
	for _, u := range users {
		if got := f.balance(t, u); got != 20 {
			t.Errorf("%s balance = %d, want 20", u, got)
		}
	}
	if f.store.VectorCount() != 6 {
		t.Errorf("vectors = %d, want 6", f.store.VectorCount())
	}
}

func TestReverifyPendingThroughVerifierKeepsPostPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assessor.set(Assessment{Rationale: RationaleOffline, Failure: AssessmentOffline})
	verifierStore := memory.New()
	f.svc.remote = localRemote{verifier: NewAIVerifier(verifierStore.Stores().Vectors, nil, nil, AIVerifierConfig{DefaultCredits: 1})}

	post := f.submit(t, "u1", string(patternPNG(t, 3)))
	if post.Status != domain.PostStatusPending || post.ReviewNotes != NotePendingReview {
		t.Fatalf("submit = %s %q, want pending review", post.Status, post.ReviewNotes)
	}

	for i := 0; i < 2; i++ {
		stats, err := f.svc.ReverifyPending(ctx, 10)
		if err != nil {
			t.Fatalf("ReverifyPending: %v", err)
		}
		if stats.StillPending != 1 || stats.Rejected != 0 {
			t.Errorf("run %d stats = %+v, want still pending", i, stats)
		}
	}

	got, _ := f.svc.GetPost(ctx, post.ID)
	if got.Status != domain.PostStatusPending || strings.Contains(got.ReviewNotes, "Duplicate") {
		t.Errorf("post = %s %q, matched its own record", got.Status, got.ReviewNotes)
	}
	if verifierStore.VectorCount() != 1 {
		t.Errorf("verifier vectors = %d, want 1", verifierStore.VectorCount())
	}

	// A new post with the same photo is still rejected.
	second := f.submit(t, "u1", string(patternPNG(t, 3)))
	if second.Status != domain.PostStatusRejected {
		t.Errorf("copy = %s, want rejected", second.Status)
	}
}

func TestSubmit_SlowAssessorDoesNotStarveScopeLock(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.LockTimeout = 100 * time.Millisecond
	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})
	f.assessor.delay = 300 * time.Millisecond
	f.embedder.vectors["a"] = []float32{1, 0}
	f.embedder.vectors["b"] = []float32{0, 1}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, media := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, media string) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(context.Background(), &SubmitRequest{
				UserID:      "u1",
				MediaBase64: base64.StdEncoding.EncodeToString([]byte(media)),
			})
		}(i, media)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("submission %d: %v", i, err)
		}
	}
	if got := f.balance(t, "u1"); got != 20 {
		t.Errorf("balance = %d, want 20", got)
	}
}

func TestReverifyPendingSkipsAdminDecidedPost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assessor.set(Assessment{Rationale: RationaleOffline, Failure: AssessmentOffline})
	post := f.submit(t, "u1", "m1")

	// The admin approves while the pipeline is assessing the post.
	f.assessor.set(Assessment{Verdict: true, Rationale: "yes"})
	f.assessor.onAssess = func() {
		if _, err := f.svc.Approve(ctx, post.ID, nil, ""); err != nil {
			t.Errorf("Approve: %v", err)
		}
	}

	if _, err := f.svc.ReverifyPending(ctx, 10); err != nil {
		t.Fatalf("ReverifyPending: %v", err)
	}
	for _, path := range f.publisher.paths() {
		if path == PathReverify {
			t.Errorf("events = %v, want no re-verification event", f.publisher.paths())
		}
	}
	if got := f.balance(t, "u1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	got, _ := f.svc.GetPost(ctx, post.ID)
	if got.ReviewNotes != defaultApproveNote {
		t.Errorf("notes = %q, admin decision overwritten", got.ReviewNotes)
	}
}
