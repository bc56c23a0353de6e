package models

import (
	"time"
)

// Earning is a coin credit reported by the WebApp. ExternalID makes the
// report idempotent.
type Earning struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID int64  `gorm:"not null;index"`
	Amount     int64  `gorm:"not null"`
	ExternalID string `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt  time.Time
}
