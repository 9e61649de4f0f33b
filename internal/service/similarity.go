package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/metrics"
	"github.com/timmy/ecosync/internal/repository"
)

// cosineEpsilon keeps the denominator positive for zero vectors.
const cosineEpsilon = 1e-9

// Cosine returns dot(a,b) / (|a|*|b| + 1e-9). ok is false for vectors of
// different length, which are not comparable.
func Cosine(a, b []float32) (score float64, ok bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + cosineEpsilon), true
}

// Match is the best near-duplicate found by a scan.
type Match struct {
	ContentID string
	Score     float64
	Seq       uint64
}

// Note renders the review note attached to a post rejected as a duplicate.
func (m *Match) Note() string {
	return fmt.Sprintf("Near-duplicate detected (similar to %s, score %.3f)", m.ContentID, m.Score)
}

// BestMatch scans records in order and returns the highest scoring one whose
// score is strictly greater than threshold. Records with a different
// dimensionality, or whose ContentID equals exclude, are skipped. On equal
// scores the earlier record wins.
func BestMatch(vector []float32, records []domain.EmbeddingRecord, threshold float64, exclude string) *Match {
	var best *Match
	for i := range records {
		rec := &records[i]
		if exclude != "" && rec.ContentID == exclude {
			continue
		}
		score, ok := Cosine(vector, rec.Vector)
		if !ok || score <= threshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{ContentID: rec.ContentID, Score: score, Seq: rec.Seq}
		}
	}
	return best
}

// DuplicateQuery scopes a near-duplicate scan.
type DuplicateQuery struct {
	Vector    []float32
	OwnerID   string
	Kind      domain.EmbeddingKind
	Threshold float64
	// ExcludeContentID skips the record of the post being re-checked.
	ExcludeContentID string
}

// FindNearDuplicate scans the owner's records of one kind and returns the
// best match above the threshold, or nil.
func FindNearDuplicate(ctx context.Context, store repository.VectorStore, q DuplicateQuery) (*Match, error) {
	start := time.Now()
	records, err := store.Scan(ctx, q.OwnerID, q.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	match := BestMatch(q.Vector, records, q.Threshold, q.ExcludeContentID)
	metrics.Metrics.DuplicateScanDuration.WithLabelValues(string(q.Kind)).Observe(time.Since(start).Seconds())

	entry := logger.With(logger.Fields{"kind": string(q.Kind)}).WithCount(len(records)).WithDuration(start)
	if match != nil {
		entry.With(logger.Fields{logger.FieldScore: match.Score, "match": match.ContentID}).Info(ctx, "Near-duplicate found")
	} else {
		entry.Debug(ctx, "No near-duplicate")
	}
	return match, nil
}
