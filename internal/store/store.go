package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cookcoin-bot/internal/models"
)

// ErrUnavailable wraps any failure of the underlying database.
var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnavailable   = errors.New("store unavailable")
)

// NewUser carries the fields fixed at registration.
type NewUser struct {
	TelegramID int64
	ReferrerID *int64
	Username   string
	ChatID     int64
}

// Award is a referral bonus paid to ReferrerID on behalf of InvitedUserID.
// Once makes it conditional on the tier not having been paid before for
// this pair.
type Award struct {
	ReferrerID    int64
	InvitedUserID int64
	Tier          int
	Amount        int64
	Once          bool
}

// Stats summarises a referrer's downline.
type Stats struct {
	Invited int64
	Earned  int64
}

// Store is the gorm-backed user ledger.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Create inserts a user; an existing TelegramID yields ErrAlreadyExists and
// leaves the stored record untouched.
func (s *Store) Create(ctx context.Context, nu NewUser) (*models.User, error) {
	user := models.User{
		TelegramID: nu.TelegramID,
		Username:   nu.Username,
		ChatID:     nu.ChatID,
		ReferrerID: nu.ReferrerID,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "telegram_id"}}, DoNothing: true}).
		Create(&user)
	if res.Error != nil {
		return nil, unavailable("create user", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("user %d: %w", nu.TelegramID, ErrAlreadyExists)
	}
	return &user, nil
}

func (s *Store) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get user", err)
	}
	return &user, nil
}

// SetVerified flips the verified flag. It reports true only for the call that
// performed the false->true transition.
func (s *Store) SetVerified(ctx context.Context, telegramID int64) (bool, error) {
	changed, _, err := s.VerifyWithBonus(ctx, telegramID, 0)
	return changed, err
}

// VerifyWithBonus flips the verified flag and credits bonus in one
// transaction, so either both happen or neither does. Only the call that
// performed the transition pays, and balance is the balance after that
// credit.
func (s *Store) VerifyWithBonus(ctx context.Context, telegramID int64, bonus int64) (changed bool, balance int64, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("telegram_id = ? AND verified = ?", telegramID, false).
			Updates(map[string]interface{}{"verified": true, "verified_at": s.now().UTC()})
		if res.Error != nil {
			return unavailable("set verified", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true
		if bonus == 0 {
			return nil
		}
		var err error
		balance, err = increment(tx, telegramID, bonus)
		return err
	})
	if err != nil {
		return false, 0, err
	}
	if !changed {
		if _, err := s.Get(ctx, telegramID); err != nil {
			return false, 0, err
		}
	}
	return changed, balance, nil
}

// IncrementBalance adds delta in a single SQL update and returns the new
// balance. Concurrent increments never lose updates.
func (s *Store) IncrementBalance(ctx context.Context, telegramID int64, delta int64) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = increment(tx, telegramID, delta)
		return err
	})
	return balance, err
}

func increment(tx *gorm.DB, telegramID int64, delta int64) (int64, error) {
	res := tx.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		UpdateColumn("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return 0, unavailable("increment balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
	}
	var user models.User
	if err := tx.Select("balance").Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return 0, unavailable("read balance", err)
	}
	return user.Balance, nil
}

// ListReferrals returns every user whose referrer is referrerID.
func (s *Store) ListReferrals(ctx context.Context, referrerID int64) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("telegram_id").
		Find(&users).Error
	if err != nil {
		return nil, unavailable("list referrals", err)
	}
	return users, nil
}

// ListReferrers returns the distinct referrer IDs that have a downline.
func (s *Store) ListReferrers(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("referrer_id IS NOT NULL").
		Order("referrer_id").
		Distinct().
		Pluck("referrer_id", &ids).Error
	if err != nil {
		return nil, unavailable("list referrers", err)
	}
	return ids, nil
}

// AwardReferralBonus credits the referrer and appends the ledger entry in one
// transaction. With Once set, an already paid tier is a no-op and applied is
// false.
func (s *Store) AwardReferralBonus(ctx context.Context, a Award) (applied bool, balance int64, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		if a.Once {
			marker := models.ReferralTier{
				ReferrerID:    a.ReferrerID,
				InvitedUserID: a.InvitedUserID,
				Tier:          a.Tier,
				CreatedAt:     now,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
			if res.Error != nil {
				return unavailable("mark tier", res.Error)
			}
			if res.RowsAffected == 0 {
				return nil
			}
		}

		var err error
		if balance, err = increment(tx, a.ReferrerID, a.Amount); err != nil {
			return err
		}
		entry := models.ReferralTransaction{
			ReferrerID:    a.ReferrerID,
			InvitedUserID: a.InvitedUserID,
			Tier:          a.Tier,
			Amount:        a.Amount,
			CreatedAt:     now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return unavailable("record referral transaction", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return applied, balance, nil
}

func (s *Store) ReferralStats(ctx context.Context, referrerID int64) (Stats, error) {
	var stats Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Where("referrer_id = ?", referrerID).Count(&stats.Invited).Error; err != nil {
		return Stats{}, unavailable("count referrals", err)
	}
	err := db.Model(&models.ReferralTransaction{}).
		Where("referrer_id = ?", referrerID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&stats.Earned).Error
	if err != nil {
		return Stats{}, unavailable("sum referral earnings", err)
	}
	return stats, nil
}

// RecordEarning stores a WebApp earning report. A repeated externalID yields
// ErrAlreadyExists.
func (s *Store) RecordEarning(ctx context.Context, telegramID int64, externalID string, amount int64) error {
	earning := models.Earning{
		TelegramID: telegramID,
		Amount:     amount,
		ExternalID: externalID,
		CreatedAt:  s.now().UTC(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(&earning)
	if res.Error != nil {
		return unavailable("record earning", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("earning %s: %w", externalID, ErrAlreadyExists)
	}
	return nil
}

// DeleteEarning forgets a report whose credit failed so it can be retried.
func (s *Store) DeleteEarning(ctx context.Context, externalID string) error {
	if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Delete(&models.Earning{}).Error; err != nil {
		return unavailable("delete earning", err)
	}
	return nil
}
