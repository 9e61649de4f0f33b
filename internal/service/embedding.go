package service

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/metrics"
	"github.com/timmy/ecosync/internal/prompts"
)

// Source tags recorded with every embedding.
const (
	SourceOfflineHash  = "offline-hash"
	SourceFallbackHash = "fallback-hash"
)

const defaultHashDimensions = 64

// Embedding is a vector plus the tag of the strategy that produced it.
type Embedding struct {
	Vector []float32
	Source string
}

// EmbeddingProvider turns media bytes into a vector. Embed never fails.
type EmbeddingProvider interface {
	Embed(ctx context.Context, data []byte) Embedding
}

// SemanticEmbedder is an external embedding backend.
type SemanticEmbedder interface {
	Embed(ctx context.Context, data []byte) ([]float32, error)
	Name() string
}

// HashEmbedder derives a deterministic vector from the SHA-256 digest of the
// input: the digest is repeated and truncated to the configured length and
// each byte is scaled to [0,1]. Equal inputs always give equal vectors.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder; dims <= 0 selects 64.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector length.
func (h *HashEmbedder) Dimensions() int {
	return h.dims
}

// Embed returns the hash vector of data.
func (h *HashEmbedder) Embed(data []byte) []float32 {
	digest := sha256.Sum256(data)
	vec := make([]float32, h.dims)
	for i := range vec {
		vec[i] = float32(digest[i%len(digest)]) / 255
	}
	return vec
}

// GeminiEmbedder embeds raw media through the Gemini embedContent endpoint.
type GeminiEmbedder struct {
	client *geminiClient
}

// NewGeminiEmbedder creates a GeminiEmbedder.
func NewGeminiEmbedder(cfg *config.GeminiConfig) *GeminiEmbedder {
	return &GeminiEmbedder{client: newGeminiClient(cfg)}
}

// Name returns the embedding model, used as the source tag.
func (g *GeminiEmbedder) Name() string {
	return g.client.embeddingModel
}

// Embed returns the model's vector for data.
func (g *GeminiEmbedder) Embed(ctx context.Context, data []byte) ([]float32, error) {
	return g.client.embedContent(ctx, data, prompts.EmbeddingTaskDocument)
}

// ChainProvider tries the semantic backend, then the learned extractor, then
// falls back to the hash embedding.
type ChainProvider struct {
	semantic SemanticEmbedder
	learned  FeatureExtractor
	hash     *HashEmbedder
}

// NewChainProvider builds a provider. semantic and learned may be nil.
func NewChainProvider(semantic SemanticEmbedder, learned FeatureExtractor, hash *HashEmbedder) *ChainProvider {
	if hash == nil {
		hash = NewHashEmbedder(defaultHashDimensions)
	}
	return &ChainProvider{semantic: semantic, learned: learned, hash: hash}
}

// NewEmbeddingProvider wires the provider from configuration. The semantic
// backend is used only when Gemini is usable (not offline, key present).
func NewEmbeddingProvider(cfg *config.Config, learned FeatureExtractor) *ChainProvider {
	var semantic SemanticEmbedder
	if cfg.Gemini.Usable(cfg.Verification.OfflineMode) {
		semantic = NewGeminiEmbedder(&cfg.Gemini)
	}
	return NewChainProvider(semantic, learned, NewHashEmbedder(cfg.Verification.HashDimensions))
}

// Embed computes the embedding of data.
func (p *ChainProvider) Embed(ctx context.Context, data []byte) Embedding {
	start := time.Now()
	emb := p.embed(ctx, data)
	metrics.Metrics.EmbeddingSources.WithLabelValues(emb.Source).Inc()
	logger.With(logger.Fields{logger.FieldSourceTag: emb.Source, "dims": len(emb.Vector)}).
		WithDuration(start).
		Debug(ctx, "Embedding computed")
	return emb
}

func (p *ChainProvider) embed(ctx context.Context, data []byte) Embedding {
	fallback := SourceOfflineHash

	if p.semantic != nil {
		vec, err := p.semantic.Embed(ctx, data)
		if err == nil && len(vec) > 0 {
			return Embedding{Vector: vec, Source: p.semantic.Name()}
		}
		metrics.Metrics.ExternalFailures.WithLabelValues("embedding").Inc()
		logger.FromContext(ctx).WithError(err).Warn("Semantic embedding failed, falling back")
		fallback = SourceFallbackHash
	}

	if p.learned != nil && p.learned.Available() {
		res := p.learned.Extract(data)
		if res.Status == FeatureOK && len(res.Vector) > 0 {
			return Embedding{Vector: res.Vector, Source: SourceLearnedFeature}
		}
		logger.FromContext(ctx).WithField("reason", res.Reason).Warn("Learned feature extractor unavailable, falling back")
	}

	return Embedding{Vector: p.hash.Embed(data), Source: fallback}
}
