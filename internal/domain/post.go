package domain

import (
	"time"
)

// PostStatus represents the verification status of a cleanup post.
// Values include PostStatusPending, PostStatusVerified, and PostStatusRejected.
type PostStatus string

const (
	PostStatusPending  PostStatus = "pending"
	PostStatusVerified PostStatus = "verified"
	PostStatusRejected PostStatus = "rejected"
)

// Valid reports whether s is one of the known post statuses.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusPending, PostStatusVerified, PostStatusRejected:
		return true
	}
	return false
}

// Post is a cleanup photo submission owned by a user.
// CreditsAwarded always equals the net amount already applied to the
// owner's ledger for this post.
type Post struct {
	ID              string     `gorm:"type:text;primaryKey" json:"id"`
	UserID          string     `gorm:"type:text;not null;index:idx_posts_user" json:"user_id"`
	Caption         string     `gorm:"type:text" json:"caption"`
	Location        string     `gorm:"type:text" json:"location,omitempty"`
	MediaMIME       string     `gorm:"type:text" json:"media_mime"`
	MediaKey        string     `gorm:"type:text;index:idx_posts_media_key" json:"-"`
	MediaURL        string     `gorm:"type:text" json:"media_url"`
	MediaSHA256     string     `gorm:"type:text;index:idx_posts_media_sha256" json:"media_sha256"`
	AISummary       string     `gorm:"type:text" json:"ai_summary,omitempty"`
	EmbeddingSource string     `gorm:"type:text" json:"embedding_source,omitempty"`
	Status          PostStatus `gorm:"type:text;index:idx_posts_status;default:pending" json:"status"`
	Verified        bool       `json:"verified"`
	CreditsAwarded  int        `gorm:"not null;default:0" json:"credits_awarded"`
	ReviewNotes     string     `gorm:"type:text" json:"review_notes,omitempty"`
	CreatedAt       time.Time  `gorm:"index:idx_posts_created_at" json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string {
	return "posts"
}

// IsTerminal reports whether the post left the pending state.
func (p *Post) IsTerminal() bool {
	return p.Status == PostStatusVerified || p.Status == PostStatusRejected
}
