package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/events"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/metrics"
	"github.com/timmy/ecosync/internal/repository"
	"github.com/timmy/ecosync/internal/storage"
)

// Decision paths, recorded in events and metrics.
const (
	PathDuplicate         = "duplicate"
	PathAssessor          = "assessor"
	PathRemote            = "remote"
	PathRemoteUnavailable = "remote-unavailable"
	PathUnassessed        = "unassessed"
	PathAdmin             = "admin"
	PathReverify          = "reverify"
)

const (
	defaultApproveNote = "Approved by admin"
	defaultRejectNote  = "Rejected by admin"
)

// VerificationConfig holds the orchestrator's tunables.
type VerificationConfig struct {
	RewardPerPost            int
	ApproveDefault           int
	DuplicateThreshold       float64
	SerializeDuplicateChecks bool
	LockTimeout              time.Duration
	ReverifyWorkers          int
}

// VerificationService runs the post verification pipeline and the
// administrative overrides.
type VerificationService struct {
	uow       repository.UnitOfWork
	embedder  EmbeddingProvider
	assessor  AuthenticityAssessor
	remote    RemoteVerifier
	media     *storage.MediaStore
	locker    ScopeLocker
	publisher events.Publisher
	cfg       VerificationConfig
}

// NewVerificationService creates a VerificationService.
// Parameters:
//   - uow: unit of work over posts, ledger and vectors.
//   - embedder: embedding provider; Embed never fails.
//   - assessor: authenticity assessor.
//   - remote: secondary-opinion client used when the assessor is unusable.
//   - media: proof photo storage.
//   - locker: per-(owner, kind) lock; nil disables serialization.
//   - publisher: post-decision event sink; nil publishes nothing.
//   - cfg: rewards, threshold and locking settings.
//
// Returns:
//   - *VerificationService: ready to serve submissions.
func NewVerificationService(
	uow repository.UnitOfWork,
	embedder EmbeddingProvider,
	assessor AuthenticityAssessor,
	remote RemoteVerifier,
	media *storage.MediaStore,
	locker ScopeLocker,
	publisher events.Publisher,
	cfg VerificationConfig,
) *VerificationService {
	if locker == nil || !cfg.SerializeDuplicateChecks {
		locker = NopScopeLocker{}
	}
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = 0.80
	}
	return &VerificationService{
		uow:       uow,
		embedder:  embedder,
		assessor:  assessor,
		remote:    remote,
		media:     media,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *VerificationService) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx).WithField(logger.FieldComponent, "verification")
}

// SubmitRequest is a new cleanup post.
type SubmitRequest struct {
	UserID      string
	Caption     string
	Location    string
	MediaBase64 string
	MediaMIME   string
}

// decision is the outcome of the pipeline for one post.
type decision struct {
	status          domain.PostStatus
	credits         int
	notes           string
	summary         string
	path            string
	saveEmbedding   bool
	embeddingSource string
}

func (d decision) terminal() bool {
	return d.status == domain.PostStatusVerified || d.status == domain.PostStatusRejected
}

// decodeMedia decodes standard base64, with or without a data URL prefix.
func decodeMedia(encoded string) ([]byte, string, error) {
	encoded = strings.TrimSpace(encoded)
	mime := ""
	if strings.HasPrefix(encoded, "data:") {
		if meta, payload, ok := strings.Cut(strings.TrimPrefix(encoded, "data:"), ","); ok {
			mime = strings.TrimSuffix(meta, ";base64")
			encoded = payload
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(data) == 0 {
		return nil, "", domain.ErrInvalidMedia
	}
	return data, mime, nil
}

// Submit verifies a new post and persists the outcome.
//
// Embedding, assessment and the remote second opinion run without holding
// the owner's scope lock. The lock is taken only to re-scan for duplicates
// and commit, so a slow AI service delays a submission but never makes a
// concurrent one from the same owner fail.
//
// The post, its ledger credit and its semantic embedding are written in one
// transaction. A near-duplicate stops the pipeline: the post is stored as
// rejected and no embedding is kept for it. External service failures never
// surface as errors; only malformed media (domain.ErrInvalidMedia) and
// persistence failures do.
func (s *VerificationService) Submit(ctx context.Context, req *SubmitRequest) (*domain.Post, error) {
	data, urlMIME, err := decodeMedia(req.MediaBase64)
	if err != nil {
		return nil, err
	}
	mime := storage.DetectMIME(req.MediaMIME, data)
	if req.MediaMIME == "" && urlMIME != "" {
		mime = urlMIME
	}

	start := time.Now()
	postID := uuid.New().String()
	ctx = logger.SetUserID(logger.SetPostID(ctx, postID), req.UserID)

	emb := s.embedder.Embed(ctx, data)
	d, err := s.decide(ctx, req.UserID, postID, data, mime, emb, "")
	if err != nil {
		return nil, err
	}

	stored, err := s.media.Save(ctx, data, mime)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockScope(ctx, req.UserID)
	if err != nil {
		s.discardMedia(ctx, stored)
		return nil, err
	}
	defer unlock()

	if err := s.recheck(ctx, req.UserID, emb, "", &d); err != nil {
		s.discardMedia(ctx, stored)
		return nil, err
	}

	now := time.Now().UTC()
	post := &domain.Post{
		ID:              postID,
		UserID:          req.UserID,
		Caption:         req.Caption,
		Location:        req.Location,
		MediaMIME:       stored.MIME,
		MediaKey:        stored.Key,
		MediaURL:        stored.URL,
		MediaSHA256:     stored.SHA256,
		AISummary:       d.summary,
		EmbeddingSource: emb.Source,
		Status:          d.status,
		Verified:        d.status == domain.PostStatusVerified,
		CreditsAwarded:  d.credits,
		ReviewNotes:     d.notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		if err := tx.Posts.Create(ctx, post); err != nil {
			return fmt.Errorf("failed to create post: %w", err)
		}
		if post.CreditsAwarded > 0 {
			if _, err := tx.Ledger.Adjust(ctx, post.UserID, post.CreditsAwarded); err != nil {
				return fmt.Errorf("failed to credit user: %w", err)
			}
		}
		if d.saveEmbedding {
			rec := &domain.EmbeddingRecord{
				OwnerID:   post.UserID,
				ContentID: post.ID,
				Kind:      domain.EmbeddingKindSemantic,
				Vector:    domain.Vector(emb.Vector),
				Source:    emb.Source,
			}
			if err := tx.Vectors.Put(ctx, rec); err != nil {
				return fmt.Errorf("failed to save embedding: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.discardMedia(ctx, stored)
		s.log(ctx).WithError(err).Error("Failed to persist post")
		return nil, err
	}

	s.finish(ctx, post, post.CreditsAwarded, d.path, start)
	return post, nil
}

// discardMedia deletes an object this submission uploaded. Objects that
// already existed belong to earlier posts and stay.
func (s *VerificationService) discardMedia(ctx context.Context, stored storage.StoredMedia) {
	if !stored.Uploaded {
		return
	}
	if err := s.media.Delete(ctx, stored.Key); err != nil {
		s.log(ctx).WithField("storage_key", stored.Key).WithError(err).Error("Failed to rollback media upload")
	}
}

// lockScope serializes duplicate check and insert for the owner's semantic scope.
func (s *VerificationService) lockScope(ctx context.Context, ownerID string) (func(), error) {
	lockCtx := ctx
	if s.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
	}
	unlock, err := s.locker.Lock(lockCtx, ownerID, domain.EmbeddingKindSemantic)
	if err != nil {
		return nil, fmt.Errorf("failed to lock duplicate scope: %w", err)
	}
	return unlock, nil
}

// decide runs the duplicate check and the assessment chain. exclude names a
// post whose own record must not count as its duplicate.
func (s *VerificationService) decide(ctx context.Context, ownerID, postID string, data []byte, mime string, emb Embedding, exclude string) (decision, error) {
	match, err := s.findDuplicate(ctx, ownerID, emb, exclude)
	if err != nil {
		return decision{}, err
	}
	if match != nil {
		return duplicateDecision(match, emb), nil
	}

	d := decision{saveEmbedding: true, embeddingSource: emb.Source}
	assessment := s.assessor.Assess(ctx, data, mime)
	d.summary = assessment.Rationale

	switch {
	case !assessment.Usable():
		s.secondOpinion(ctx, &d, ownerID, postID, data, assessment)
	case assessment.Verdict:
		d.status = domain.PostStatusVerified
		d.credits = s.cfg.RewardPerPost
		d.notes = assessment.Rationale
		d.path = PathAssessor
	default:
		d.status = domain.PostStatusPending
		d.notes = assessment.Rationale
		d.path = PathAssessor
	}
	return d, nil
}

func (s *VerificationService) findDuplicate(ctx context.Context, ownerID string, emb Embedding, exclude string) (*Match, error) {
	return FindNearDuplicate(ctx, s.uow.Stores().Vectors, DuplicateQuery{
		Vector:           emb.Vector,
		OwnerID:          ownerID,
		Kind:             domain.EmbeddingKindSemantic,
		Threshold:        s.cfg.DuplicateThreshold,
		ExcludeContentID: exclude,
	})
}

func duplicateDecision(match *Match, emb Embedding) decision {
	return decision{
		status:          domain.PostStatusRejected,
		notes:           match.Note(),
		path:            PathDuplicate,
		embeddingSource: emb.Source,
	}
}

// recheck repeats the duplicate scan under the scope lock. A post committed
// by a concurrent submission after decide ran turns d into a rejection.
// Must be called with the owner's scope lock held.
func (s *VerificationService) recheck(ctx context.Context, ownerID string, emb Embedding, exclude string, d *decision) error {
	if !d.saveEmbedding {
		return nil
	}
	match, err := s.findDuplicate(ctx, ownerID, emb, exclude)
	if err != nil {
		return err
	}
	if match != nil {
		*d = duplicateDecision(match, emb)
	}
	return nil
}

// secondOpinion fills d from the remote verifier.
func (s *VerificationService) secondOpinion(ctx context.Context, d *decision, ownerID, postID string, data []byte, assessment Assessment) {
	d.status = domain.PostStatusPending
	if s.remote == nil {
		d.notes = assessment.Rationale
		d.path = PathUnassessed
		return
	}

	rd := s.remote.Verify(ctx, ownerID, postID, data)
	switch rd.Failure {
	case RemoteNotConfigured:
		d.notes = assessment.Rationale
		d.path = PathUnassessed
	case RemoteUnavailable:
		d.notes = NoteRemoteUnavailable
		d.path = PathRemoteUnavailable
	default:
		d.status = rd.Response.Status
		d.notes = rd.Response.Notes
		if d.notes == "" {
			d.notes = assessment.Rationale
		}
		// Credits are recorded only when they reach the ledger.
		if d.status == domain.PostStatusVerified && rd.Response.CreditsAwarded > 0 {
			d.credits = rd.Response.CreditsAwarded
		}
		d.path = PathRemote
	}
}

// finish publishes the decision and records metrics after commit.
func (s *VerificationService) finish(ctx context.Context, post *domain.Post, delta int, path string, start time.Time) {
	metrics.RecordDecision(string(post.Status), path, delta)
	if err := s.publisher.PublishPostDecided(ctx, events.NewPostDecidedEvent(post, delta, path)); err != nil {
		metrics.Metrics.EventsDropped.Inc()
		s.log(ctx).WithError(err).Warn("Failed to publish post decision")
	}
	logger.With(logger.Fields{
		"path":                path,
		"credits":             post.CreditsAwarded,
		logger.FieldSourceTag: post.EmbeddingSource,
		logger.FieldPostID:    post.ID,
	}).WithStatus(string(post.Status)).WithDuration(start).Info(ctx, "Post decided")
}

// GetPost returns a post by id.
func (s *VerificationService) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	return s.uow.Stores().Posts.GetByID(ctx, id)
}

// ListPosts returns posts newest first.
func (s *VerificationService) ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	return s.uow.Stores().Posts.List(ctx, limit, offset)
}

// Approve marks a post verified with the given credits (default
// ApproveDefault, floored at 0) and applies only the difference to what was
// previously awarded. Re-approving with the same amount leaves the ledger
// unchanged.
func (s *VerificationService) Approve(ctx context.Context, postID string, credits *int, notes string) (*domain.Post, error) {
	amount := s.cfg.ApproveDefault
	if credits != nil {
		amount = *credits
	}
	if amount < 0 {
		amount = 0
	}
	if notes == "" {
		notes = defaultApproveNote
	}
	return s.override(ctx, postID, func(post *domain.Post) {
		post.Status = domain.PostStatusVerified
		post.Verified = true
		post.CreditsAwarded = amount
		post.ReviewNotes = notes
	})
}

// Reject marks a post rejected and reverses everything it was awarded.
func (s *VerificationService) Reject(ctx context.Context, postID, reason string) (*domain.Post, error) {
	if reason == "" {
		reason = defaultRejectNote
	}
	return s.override(ctx, postID, func(post *domain.Post) {
		post.Status = domain.PostStatusRejected
		post.Verified = false
		post.CreditsAwarded = 0
		post.ReviewNotes = reason
	})
}

func (s *VerificationService) override(ctx context.Context, postID string, apply func(*domain.Post)) (*domain.Post, error) {
	start := time.Now()
	ctx = logger.SetPostID(ctx, postID)

	var post *domain.Post
	var delta int
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		var err error
		post, err = tx.Posts.GetByID(ctx, postID)
		if err != nil {
			return err
		}
		previous := post.CreditsAwarded
		apply(post)
		delta = post.CreditsAwarded - previous

		if err := tx.Posts.Update(ctx, post); err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}
		if delta != 0 {
			if _, err := tx.Ledger.Adjust(ctx, post.UserID, delta); err != nil {
				return fmt.Errorf("failed to adjust credits: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, post, delta, PathAdmin, start)
	return post, nil
}

// DeletePost removes a post and its embeddings. The ledger is not touched.
func (s *VerificationService) DeletePost(ctx context.Context, postID string) error {
	var post *domain.Post
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		var err error
		post, err = tx.Posts.GetByID(ctx, postID)
		if err != nil {
			return err
		}
		if err := tx.Posts.DeleteByIDs(ctx, []string{postID}); err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}
		if err := tx.Vectors.DeleteByContentIDs(ctx, []string{postID}); err != nil {
			return fmt.Errorf("failed to delete embeddings: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	releaseMedia(ctx, s.uow.Stores().Posts, s.media, []domain.Post{*post})
	s.log(ctx).WithField(logger.FieldPostID, postID).Info("Post deleted")
	return nil
}

// releaseMedia deletes objects no remaining post references. Identical
// photos share one content-addressed key.
func releaseMedia(ctx context.Context, posts repository.PostStore, media *storage.MediaStore, removed []domain.Post) {
	seen := make(map[string]bool)
	for _, p := range removed {
		if p.MediaKey == "" || seen[p.MediaKey] {
			continue
		}
		seen[p.MediaKey] = true

		inUse, err := posts.ExistsByMediaKey(ctx, p.MediaKey)
		if err != nil {
			logger.FromContext(ctx).WithError(err).WithField("storage_key", p.MediaKey).Warn("Failed to check media references")
			continue
		}
		if inUse {
			continue
		}
		if err := media.Delete(ctx, p.MediaKey); err != nil {
			logger.FromContext(ctx).WithError(err).WithField("storage_key", p.MediaKey).Warn("Failed to delete media object")
		}
	}
}

// ReverifyStats holds statistics for a re-verification run
type ReverifyStats struct {
	Total        int       `json:"total"`
	Verified     int       `json:"verified"`
	Rejected     int       `json:"rejected"`
	StillPending int       `json:"still_pending"`
	Failed       int       `json:"failed"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// ReverifyPending re-runs the pipeline for up to limit pending posts, oldest
// first, using their stored media. A post adopts a terminal decision if one
// is reached and stays untouched otherwise. The post's own embedding is
// excluded from its duplicate scan and a second semantic record is never
// written.
func (s *VerificationService) ReverifyPending(ctx context.Context, limit int) (*ReverifyStats, error) {
	stats := &ReverifyStats{StartTime: time.Now()}

	posts, err := s.uow.Stores().Posts.ListByStatus(ctx, domain.PostStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending posts: %w", err)
	}
	stats.Total = len(posts)

	workers := s.cfg.ReverifyWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(posts) {
		workers = len(posts)
	}

	postsChan := make(chan *domain.Post, workers*2)
	resultsChan := make(chan reverifyResult, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for post := range postsChan {
				status, err := s.reverifyOne(ctx, post)
				resultsChan <- reverifyResult{postID: post.ID, status: status, err: err}
			}
		}()
	}

	// Single collector, so stats need no locking
	done := make(chan struct{})
	go func() {
		for r := range resultsChan {
			switch {
			case r.err != nil:
				stats.Failed++
				s.log(ctx).WithField(logger.FieldPostID, r.postID).WithError(r.err).Error("Failed to re-verify post")
			case r.status == domain.PostStatusVerified:
				stats.Verified++
			case r.status == domain.PostStatusRejected:
				stats.Rejected++
			default:
				stats.StillPending++
			}
		}
		close(done)
	}()

feed:
	for i := range posts {
		select {
		case postsChan <- &posts[i]:
		case <-ctx.Done():
			break feed
		}
	}
	close(postsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	s.log(ctx).WithFields(logger.Fields{
		"total":    stats.Total,
		"verified": stats.Verified,
		"rejected": stats.Rejected,
		"pending":  stats.StillPending,
		"failed":   stats.Failed,
		"workers":  workers,
		"duration": stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Re-verification completed")
	return stats, nil
}

type reverifyResult struct {
	postID string
	status domain.PostStatus
	err    error
}

func (s *VerificationService) reverifyOne(ctx context.Context, post *domain.Post) (domain.PostStatus, error) {
	start := time.Now()
	ctx = logger.SetUserID(logger.SetPostID(ctx, post.ID), post.UserID)

	data, err := s.media.Load(ctx, post.MediaKey, post.MediaURL)
	if err != nil {
		return "", fmt.Errorf("failed to load media: %w", err)
	}

	emb := s.embedder.Embed(ctx, data)
	d, err := s.decide(ctx, post.UserID, post.ID, data, post.MediaMIME, emb, post.ID)
	if err != nil {
		return "", err
	}
	if !d.terminal() {
		return domain.PostStatusPending, nil
	}

	unlock, err := s.lockScope(ctx, post.UserID)
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := s.recheck(ctx, post.UserID, emb, post.ID, &d); err != nil {
		return "", err
	}

	var delta int
	decidedElsewhere := false
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		current, err := tx.Posts.GetByID(ctx, post.ID)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			// Decided by an admin meanwhile.
			decidedElsewhere = true
			*post = *current
			return nil
		}
		delta = d.credits - current.CreditsAwarded
		current.Status = d.status
		current.Verified = d.status == domain.PostStatusVerified
		current.CreditsAwarded = d.credits
		current.ReviewNotes = d.notes
		if d.summary != "" {
			current.AISummary = d.summary
		}
		if err := tx.Posts.Update(ctx, current); err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}
		if delta != 0 {
			if _, err := tx.Ledger.Adjust(ctx, current.UserID, delta); err != nil {
				return fmt.Errorf("failed to adjust credits: %w", err)
			}
		}
		if d.saveEmbedding {
			exists, err := tx.Vectors.ExistsForContent(ctx, current.ID, domain.EmbeddingKindSemantic)
			if err != nil {
				return err
			}
			if !exists {
				if err := tx.Vectors.Put(ctx, &domain.EmbeddingRecord{
					OwnerID:   current.UserID,
					ContentID: current.ID,
					Kind:      domain.EmbeddingKindSemantic,
					Vector:    domain.Vector(emb.Vector),
					Source:    emb.Source,
				}); err != nil {
					return fmt.Errorf("failed to save embedding: %w", err)
				}
			}
		}
		*post = *current
		return nil
	})
	if err != nil {
		return "", err
	}
	if decidedElsewhere {
		return post.Status, nil
	}

	s.finish(ctx, post, delta, PathReverify, start)
	return post.Status, nil
}
