package models

import (
	"time"
)

// User is a registered participant. ChatID is where notifications for the
// user are delivered; ReferrerID is fixed at creation.
type User struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID int64  `gorm:"uniqueIndex;not null"`
	Username   string `gorm:"size:255"`
	ChatID     int64  `gorm:"not null"`
	Balance    int64  `gorm:"not null;default:0"`
	ReferrerID *int64 `gorm:"index"`
	Verified   bool   `gorm:"not null;default:false"`
	VerifiedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName returns the handle shown to other users.
func (u User) DisplayName() string {
	if u.Username == "" {
		return ""
	}
	return "@" + u.Username
}
