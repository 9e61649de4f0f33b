package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/timmy/ecosync/internal/domain"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypePostDecided is emitted after a post's verification outcome is committed.
	EventTypePostDecided = "ecosync.post.decided"
)

// PostDecidedEvent is a transport-neutral payload describing a committed decision.
type PostDecidedEvent struct {
	SchemaVersion   int               `json:"schema_version"`
	EventType       string            `json:"event_type"`
	EventID         string            `json:"event_id"`
	EmittedAt       time.Time         `json:"emitted_at"`
	PostID          string            `json:"post_id"`
	UserID          string            `json:"user_id"`
	Status          domain.PostStatus `json:"status"`
	CreditsAwarded  int               `json:"credits_awarded"`
	CreditsDelta    int               `json:"credits_delta"`
	ReviewNotes     string            `json:"review_notes,omitempty"`
	EmbeddingSource string            `json:"embedding_source,omitempty"`
	// Path names the step that produced the decision: duplicate, assessor,
	// remote, admin, reverify.
	Path string `json:"path"`
}

// NewPostDecidedEvent builds an event for post. delta is the ledger change
// applied together with the decision.
func NewPostDecidedEvent(post *domain.Post, delta int, path string) *PostDecidedEvent {
	return &PostDecidedEvent{
		SchemaVersion:   SchemaVersionV1,
		EventType:       EventTypePostDecided,
		EventID:         uuid.New().String(),
		EmittedAt:       time.Now().UTC(),
		PostID:          post.ID,
		UserID:          post.UserID,
		Status:          post.Status,
		CreditsAwarded:  post.CreditsAwarded,
		CreditsDelta:    delta,
		ReviewNotes:     post.ReviewNotes,
		EmbeddingSource: post.EmbeddingSource,
		Path:            path,
	}
}
