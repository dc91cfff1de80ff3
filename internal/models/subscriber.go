package models

import "time"

// Subscriber account status is split across three flags: is_active gates all
// access, is_verified gates login, is_premium caches the entitlement decision
// and is reconciled lazily on connect admission.
type Subscriber struct {
	ID           string
	Handle       int64 // short numeric handle, exposed to the mobile app
	Name         string
	Email        string // stored lowercase; uniqueness enforced on lower(email)
	PasswordHash string
	Phone        *string
	Country      *string
	IsActive     bool
	IsPremium    bool
	IsVerified   bool
	IsSuperuser  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
