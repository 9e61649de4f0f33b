package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/metrics"
	"github.com/timmy/ecosync/internal/repository"
)

// Notes returned by the verification microservice.
const (
	NoteUniqueLearned = "Unique upload (learned-feature)"
	NotePendingReview = "Pending manual review"
	noteErrPrefix     = "ai-error: "
)

// AIVerifierConfig holds the microservice's thresholds and reward.
type AIVerifierConfig struct {
	LearnedThreshold float64
	HashThreshold    float64
	DefaultCredits   int
}

// AIVerifier is the decision logic behind POST /ai/verify. It keeps its own
// vector store, separate from the API's.
type AIVerifier struct {
	vectors   repository.VectorStore
	extractor FeatureExtractor
	locker    ScopeLocker
	cfg       AIVerifierConfig
}

// NewAIVerifier creates an AIVerifier. extractor and locker may be nil.
func NewAIVerifier(vectors repository.VectorStore, extractor FeatureExtractor, locker ScopeLocker, cfg AIVerifierConfig) *AIVerifier {
	if locker == nil {
		locker = NewLocalScopeLocker()
	}
	if cfg.LearnedThreshold <= 0 {
		cfg.LearnedThreshold = 0.80
	}
	if cfg.HashThreshold <= 0 {
		cfg.HashThreshold = 0.90
	}
	if cfg.DefaultCredits < 0 {
		cfg.DefaultCredits = 0
	}
	return &AIVerifier{vectors: vectors, extractor: extractor, locker: locker, cfg: cfg}
}

// ExtractorLoaded reports whether the learned extractor is usable.
func (v *AIVerifier) ExtractorLoaded() bool {
	return v.extractor != nil && v.extractor.Available()
}

// Verify decides one upload. Malformed base64 is the only input error
// (domain.ErrInvalidMedia); undecodable images answer pending with an
// "ai-error:" note. A vector is stored only for uploads found unique.
func (v *AIVerifier) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.MediaBase64))
	if err != nil || len(data) == 0 {
		return nil, domain.ErrInvalidMedia
	}
	start := time.Now()
	ctx = logger.SetUserID(logger.SetPostID(ctx, req.PostID), req.UserID)

	if _, _, err := decodeImage(data); err != nil {
		return v.answer(ctx, start, &VerifyResponse{Status: domain.PostStatusPending, Notes: noteErrPrefix + err.Error()}, "decode-error"), nil
	}

	kind := domain.EmbeddingKindSemantic
	threshold := v.cfg.LearnedThreshold
	var vector []float32
	if v.ExtractorLoaded() {
		res := v.extractor.Extract(data)
		if res.Status == FeatureOK {
			vector = res.Vector
		} else {
			logger.FromContext(ctx).WithField("reason", res.Reason).Warn("Learned feature extraction failed, using perceptual hash")
		}
	}
	if vector == nil {
		kind = domain.EmbeddingKindPerceptualHash
		threshold = v.cfg.HashThreshold
		vector, err = PerceptualHashVector(data)
		if err != nil {
			return v.answer(ctx, start, &VerifyResponse{Status: domain.PostStatusPending, Notes: noteErrPrefix + err.Error()}, "decode-error"), nil
		}
	}

	unlock, err := v.locker.Lock(ctx, req.UserID, kind)
	if err != nil {
		return nil, err
	}
	defer unlock()

	match, err := FindNearDuplicate(ctx, v.vectors, DuplicateQuery{
		Vector:           vector,
		OwnerID:          req.UserID,
		Kind:             kind,
		Threshold:        threshold,
		ExcludeContentID: req.PostID,
	})
	if err != nil {
		return nil, err
	}
	source := SourceLearnedFeature
	if kind == domain.EmbeddingKindPerceptualHash {
		source = string(domain.EmbeddingKindPerceptualHash)
	}
	if match != nil {
		return v.answer(ctx, start, &VerifyResponse{
			Status: domain.PostStatusRejected,
			Notes:  fmt.Sprintf("Duplicate detected (%s) similar to %s (score %.3f)", source, match.ContentID, match.Score),
		}, PathDuplicate), nil
	}

	// A post asked about again (re-verification) keeps its first record.
	exists, err := v.vectors.ExistsForContent(ctx, req.PostID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to check embedding: %w", err)
	}
	if !exists {
		if err := v.vectors.Put(ctx, &domain.EmbeddingRecord{
			OwnerID:   req.UserID,
			ContentID: req.PostID,
			Kind:      kind,
			Vector:    domain.Vector(vector),
			Source:    source,
		}); err != nil {
			return nil, fmt.Errorf("failed to save embedding: %w", err)
		}
	}

	if kind == domain.EmbeddingKindSemantic {
		return v.answer(ctx, start, &VerifyResponse{
			Status:         domain.PostStatusVerified,
			Notes:          NoteUniqueLearned,
			CreditsAwarded: v.cfg.DefaultCredits,
		}, "unique"), nil
	}
	return v.answer(ctx, start, &VerifyResponse{Status: domain.PostStatusPending, Notes: NotePendingReview}, "unique"), nil
}

func (v *AIVerifier) answer(ctx context.Context, start time.Time, resp *VerifyResponse, path string) *VerifyResponse {
	metrics.RecordDecision(string(resp.Status), "aiservice-"+path, resp.CreditsAwarded)
	logger.With(logger.Fields{"path": path, "credits": resp.CreditsAwarded}).
		WithStatus(string(resp.Status)).
		WithDuration(start).
		Info(ctx, "Upload verified")
	return resp
}
