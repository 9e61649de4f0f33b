package domain

import "time"

// LostFoundStatus represents the lifecycle of a lost & found report.
// Values include LostFoundStatusOpen, LostFoundStatusClaimed, and LostFoundStatusReturned.
type LostFoundStatus string

const (
	LostFoundStatusOpen     LostFoundStatus = "open"
	LostFoundStatusClaimed  LostFoundStatus = "claimed"
	LostFoundStatusReturned LostFoundStatus = "returned"
)

// Valid reports whether s is a known lost & found status.
func (s LostFoundStatus) Valid() bool {
	switch s {
	case LostFoundStatusOpen, LostFoundStatusClaimed, LostFoundStatusReturned:
		return true
	}
	return false
}

// LostFoundItem is a found-item report.
type LostFoundItem struct {
	ID             string          `gorm:"type:text;primaryKey" json:"id"`
	UserID         string          `gorm:"type:text;not null;index:idx_lost_found_user" json:"user_id"`
	Title          string          `gorm:"type:text;not null" json:"title"`
	Description    string          `gorm:"type:text" json:"description"`
	Location       string          `gorm:"type:text" json:"location"`
	Contact        string          `gorm:"type:text" json:"contact"`
	ImageURL       string          `gorm:"type:text" json:"image_url,omitempty"`
	Status         LostFoundStatus `gorm:"type:text;default:open" json:"status"`
	CreditsAwarded int             `gorm:"not null;default:0" json:"credits_awarded"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName returns the database table name for LostFoundItem.
func (LostFoundItem) TableName() string {
	return "lost_found"
}
