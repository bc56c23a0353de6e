package models

import (
	"time"
)

// TierVerification marks the one-time bonus a referrer gets when an invited
// user passes verification. Threshold tiers start at 1.
const TierVerification = 0

// ReferralTransaction is the ledger of every referral bonus actually paid.
type ReferralTransaction struct {
	ID            uint  `gorm:"primaryKey"`
	ReferrerID    int64 `gorm:"not null;index"`
	InvitedUserID int64 `gorm:"not null;index"`
	Tier          int   `gorm:"not null"`
	Amount        int64 `gorm:"not null"`
	CreatedAt     time.Time
}

// ReferralTier records that a tier was paid for one invited user, so it is
// paid at most once.
type ReferralTier struct {
	ReferrerID    int64 `gorm:"primaryKey;autoIncrement:false"`
	InvitedUserID int64 `gorm:"primaryKey;autoIncrement:false"`
	Tier          int   `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt     time.Time
}
