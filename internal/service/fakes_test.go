package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/events"
	"github.com/timmy/ecosync/internal/repository"
	"github.com/timmy/ecosync/internal/repository/memory"
	"github.com/timmy/ecosync/internal/storage"
)

type fakeAssessor struct {
	mu     sync.Mutex
	result Assessment
	calls  int
	delay  time.Duration
	// onAssess runs before the result is returned, outside the mutex.
	onAssess func()
}

func (f *fakeAssessor) Assess(context.Context, []byte, string) Assessment {
	f.mu.Lock()
	f.calls++
	result, delay, hook := f.result, f.delay, f.onAssess
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if hook != nil {
		hook()
	}
	return result
}

func (f *fakeAssessor) set(a Assessment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = a
}

func (f *fakeAssessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRemote struct {
	mu       sync.Mutex
	decision RemoteDecision
	calls    int
}

func (f *fakeRemote) Verify(context.Context, string, string, []byte) RemoteDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.decision
}

// localRemote answers second opinions with an in-process AIVerifier.
type localRemote struct {
	verifier *AIVerifier
}

func (r localRemote) Verify(ctx context.Context, userID, postID string, data []byte) RemoteDecision {
	resp, err := r.verifier.Verify(ctx, &VerifyRequest{
		UserID:      userID,
		PostID:      postID,
		MediaBase64: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return RemoteDecision{Failure: RemoteUnavailable, Cause: err.Error()}
	}
	return RemoteDecision{Response: *resp}
}

// stubEmbedder returns fixed vectors per payload and the hash embedding
// for anything else.
type stubEmbedder struct {
	vectors map[string][]float32
	hash    *HashEmbedder
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: make(map[string][]float32), hash: NewHashEmbedder(8)}
}

func (s *stubEmbedder) Embed(_ context.Context, data []byte) Embedding {
	if v, ok := s.vectors[string(data)]; ok {
		return Embedding{Vector: v, Source: "stub"}
	}
	return Embedding{Vector: s.hash.Embed(data), Source: SourceOfflineHash}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.PostDecidedEvent
	err    error
}

func (p *recordingPublisher) PublishPostDecided(_ context.Context, e *events.PostDecidedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Path
	}
	return out
}

// failingLedgerUoW runs transactions on the memory store with a ledger that
// always fails, to exercise rollback.
type failingLedgerUoW struct {
	*memory.Store
}

type failingLedger struct {
	repository.CreditLedger
}

func (failingLedger) Adjust(context.Context, string, int) (int, error) {
	return 0, errors.New("ledger offline")
}

func (u failingLedgerUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Stores) error) error {
	return u.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		tx.Ledger = failingLedger{tx.Ledger}
		return fn(ctx, tx)
	})
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) GetURL(key string) string { return "https://media.example.com/" + key }

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type fixture struct {
	store     *memory.Store
	assessor  *fakeAssessor
	remote    *fakeRemote
	embedder  *stubEmbedder
	publisher *recordingPublisher
	svc       *VerificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		assessor:  &fakeAssessor{},
		remote:    &fakeRemote{decision: RemoteDecision{Failure: RemoteNotConfigured}},
		embedder:  newStubEmbedder(),
		publisher: &recordingPublisher{},
	}
	f.svc = NewVerificationService(
		f.store,
		f.embedder,
		f.assessor,
		f.remote,
		storage.NewMediaStore(nil, ""),
		NewLocalScopeLocker(),
		f.publisher,
		VerificationConfig{
			RewardPerPost:            10,
			ApproveDefault:           10,
			DuplicateThreshold:       0.80,
			SerializeDuplicateChecks: true,
		},
	)
	return f
}

func (f *fixture) submit(t *testing.T, userID, media string) *domain.Post {
	t.Helper()
	post, err := f.svc.Submit(context.Background(), &SubmitRequest{
		UserID:      userID,
		Caption:     "beach cleanup",
		MediaBase64: base64.StdEncoding.EncodeToString([]byte(media)),
		MediaMIME:   "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Submit(%s): %v", media, err)
	}
	return post
}

func (f *fixture) balance(t *testing.T, userID string) int {
	t.Helper()
	b, err := f.store.Stores().Ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

// patternPNG renders a deterministic, non-uniform image so perceptual
// hashes carry information.
func patternPNG(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8((x*7 + y*13 + seed*31 + (x*y)%17) % 256)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: uint8(x * 4), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}
