package models

// All lists every table for auto-migration.
func All() []interface{} {
	return []interface{}{&User{}, &ReferralTransaction{}, &ReferralTier{}, &Earning{}}
}
