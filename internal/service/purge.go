package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/metrics"
	"github.com/timmy/ecosync/internal/repository"
	"github.com/timmy/ecosync/internal/storage"
)

const defaultRejectedRetention = 24 * time.Hour

// PurgeService removes rejected posts older than the retention window,
// together with their embeddings and unreferenced media.
type PurgeService struct {
	uow       repository.UnitOfWork
	media     *storage.MediaStore
	retention time.Duration
	now       func() time.Time
}

// NewPurgeService creates a PurgeService. retention <= 0 selects 24h.
func NewPurgeService(uow repository.UnitOfWork, media *storage.MediaStore, retention time.Duration) *PurgeService {
	if retention <= 0 {
		retention = defaultRejectedRetention
	}
	return &PurgeService{uow: uow, media: media, retention: retention, now: time.Now}
}

// PurgeStale deletes every rejected post created before now - retention and
// returns how many were removed. Credits are not touched: rejected posts
// hold none.
func (p *PurgeService) PurgeStale(ctx context.Context) (int, error) {
	start := time.Now()
	cutoff := p.now().UTC().Add(-p.retention)

	var stale []domain.Post
	err := p.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		var err error
		stale, err = tx.Posts.ListRejectedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to list stale posts: %w", err)
		}
		if len(stale) == 0 {
			return nil
		}
		ids := make([]string, len(stale))
		for i := range stale {
			ids[i] = stale[i].ID
		}
		if err := tx.Vectors.DeleteByContentIDs(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete embeddings: %w", err)
		}
		if err := tx.Posts.DeleteByIDs(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete posts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(stale) > 0 {
		releaseMedia(ctx, p.uow.Stores().Posts, p.media, stale)
		metrics.Metrics.PurgedPosts.Add(float64(len(stale)))
	}
	logger.With(logger.Fields{"cutoff": cutoff.Format(time.RFC3339)}).
		WithCount(len(stale)).
		WithDuration(start).
		Info(ctx, "Purged stale rejected posts")
	return len(stale), nil
}

// Run purges every interval until ctx is done.
func (p *PurgeService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.PurgeStale(ctx); err != nil {
			logger.FromContext(ctx).WithError(err).Error("Purge failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
