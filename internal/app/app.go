// Package app wires configuration into the services shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/events"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/repository"
	"github.com/timmy/ecosync/internal/service"
	"github.com/timmy/ecosync/internal/storage"
	"gorm.io/gorm"
)

// App holds the constructed services and the resources they own.
type App struct {
	Verification *service.VerificationService
	Purge        *service.PurgeService
	Rewards      *service.RewardService
	LostFound    *service.LostFoundService

	closers []func() error
}

// Build connects every backend named in cfg and constructs the services.
// Optional backends (Qdrant, S3, Redis, Kafka, Gemini, the remote verifier)
// are used only when configured.
func Build(cfg *config.Config) (*App, error) {
	a := &App{}
	log := logger.GetDefault().WithField(logger.FieldComponent, "bootstrap")

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.addDB(db)

	var vectors repository.VectorStore
	if cfg.VectorStore.Backend == "qdrant" {
		q := cfg.VectorStore.Qdrant
		qdrant, err := repository.NewQdrantVectorStore(&repository.QdrantConnectionConfig{
			Host:             q.Host,
			Port:             q.Port,
			APIKey:           q.APIKey,
			UseTLS:           q.UseTLS,
			CollectionPrefix: q.CollectionPrefix,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to initialize qdrant: %w", err)
		}
		a.closers = append(a.closers, qdrant.Close)
		vectors = qdrant
		log.WithField("host", q.Host).Info("Embeddings stored in Qdrant")
	}
	uow := repository.NewGormUnitOfWork(db, vectors)

	objects, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if bucket, ok := objects.(*storage.S3Storage); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := bucket.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("Proof-photo bucket is not ready")
		}
		cancel()
	}
	media := storage.NewMediaStore(objects, cfg.Storage.Prefix)
	if !media.Remote() {
		log.Info("Object storage disabled, media kept inline as data URLs")
	}

	locker, rdb := service.NewScopeLocker(cfg.Redis.URL, cfg.Redis.LockTTL)
	if rdb != nil {
		a.addRedis(rdb)
	}

	publisher, err := events.NewPublisher(&cfg.Events)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	a.closers = append(a.closers, publisher.Close)

	var learned service.FeatureExtractor
	if cfg.FeatureExtractor.Enabled {
		extractor := service.NewONNXFeatureExtractor(&cfg.FeatureExtractor)
		a.closers = append(a.closers, extractor.Close)
		learned = extractor
	}

	a.Verification = service.NewVerificationService(
		uow,
		service.NewEmbeddingProvider(cfg, learned),
		service.NewGeminiAssessor(&cfg.Gemini, cfg.Verification.OfflineMode),
		service.NewHTTPRemoteVerifier(&cfg.AIService),
		media,
		locker,
		publisher,
		service.VerificationConfig{
			RewardPerPost:            cfg.Rewards.PerPost,
			ApproveDefault:           cfg.Rewards.ApproveDefault,
			DuplicateThreshold:       cfg.Verification.DuplicateThreshold,
			SerializeDuplicateChecks: cfg.Verification.SerializeDuplicateChecks,
			LockTimeout:              cfg.Verification.LockTimeout,
			ReverifyWorkers:          cfg.Verification.ReverifyWorkers,
		},
	)
	a.Purge = service.NewPurgeService(uow, media, cfg.Purge.RejectedRetention)
	a.Rewards = service.NewRewardService(uow.Stores().Ledger)
	a.LostFound = service.NewLostFoundService(uow, cfg.Rewards.PerFoundItem)

	log.WithFields(logger.Fields{
		"offline_mode":  cfg.Verification.OfflineMode,
		"gemini":        cfg.Gemini.Usable(cfg.Verification.OfflineMode),
		"remote":        cfg.AIService.URL != "",
		"events":        cfg.Events.Backend,
		"vector_store":  cfg.VectorStore.Backend,
		"serialize_dup": cfg.Verification.SerializeDuplicateChecks,
	}).Info("Services initialized")
	return a, nil
}

// BuildVerifier constructs the verification microservice over its own database.
func BuildVerifier(cfg *config.Config) (*service.AIVerifier, *App, error) {
	a := &App{}

	db, err := repository.InitDB(&cfg.Verifier.Database, &domain.EmbeddingRecord{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize verifier database: %w", err)
	}
	a.addDB(db)

	locker, rdb := service.NewScopeLocker(cfg.Redis.URL, cfg.Redis.LockTTL)
	if rdb != nil {
		a.addRedis(rdb)
	}

	var learned service.FeatureExtractor
	if cfg.FeatureExtractor.Enabled {
		extractor := service.NewONNXFeatureExtractor(&cfg.FeatureExtractor)
		a.closers = append(a.closers, extractor.Close)
		learned = extractor
	}

	verifier := service.NewAIVerifier(repository.NewEmbeddingRepository(db), learned, locker, service.AIVerifierConfig{
		LearnedThreshold: cfg.Verification.DuplicateThreshold,
		HashThreshold:    cfg.Verification.LightweightThreshold,
		DefaultCredits:   cfg.Verifier.DefaultCredits,
	})
	return verifier, a, nil
}

func (a *App) addDB(db *gorm.DB) {
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
}

func (a *App) addRedis(rdb *redis.Client) {
	a.closers = append(a.closers, rdb.Close)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
