package domain

import "time"

// UserCredit is a user's credit balance. Balance is never negative.
type UserCredit struct {
	UserID    string    `gorm:"type:text;primaryKey" json:"user_id"`
	Credits   int       `gorm:"not null;default:0" json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserCredit.
func (UserCredit) TableName() string {
	return "credits"
}
