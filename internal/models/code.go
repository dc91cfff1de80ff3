package models

import "time"

// Verification code purposes
const (
	CodePurposeEmailVerify   = "email_verify"
	CodePurposePasswordReset = "password_reset"
)

// Code shape: six digits, three failed verify attempts before invalidation.
const (
	CodeDigits      = 6
	CodeMaxAttempts = 3
)

// VerificationCode is a short-lived six-digit one-time code bound to an
// email and a purpose. At most one unconsumed code exists per (email, purpose);
// issuing a new one invalidates the prior.
type VerificationCode struct {
	ID        string
	Email     string
	Code      string
	Purpose   string
	ExpiresAt time.Time
	Consumed  bool
	Attempts  int
	CreatedAt time.Time
}

// Expired reports whether the code is past its TTL.
func (c *VerificationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
