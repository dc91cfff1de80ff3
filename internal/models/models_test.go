package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerAcceptsTier(t *testing.T) {
	free := &Server{Tier: TierFree}
	paid := &Server{Tier: TierPaid}

	assert.True(t, free.AcceptsTier(TierFree))
	assert.True(t, free.AcceptsTier(TierPaid))
	assert.False(t, paid.AcceptsTier(TierFree))
	assert.True(t, paid.AcceptsTier(TierPaid))
}

func TestSessionDuration(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	now := start.Add(45 * time.Minute)

	open := &Session{StartedAt: start}
	assert.Equal(t, 45*time.Minute, open.Duration(now))

	end := start.Add(10 * time.Minute)
	closed := &Session{StartedAt: start, EndedAt: &end}
	// Closed sessions report the stored span regardless of now
	assert.Equal(t, 10*time.Minute, closed.Duration(now))
}

func TestEntitlementPremium(t *testing.T) {
	assert.False(t, (&Entitlement{Tier: TierFree}).Premium())
	assert.True(t, (&Entitlement{Tier: TierPaid}).Premium())
}
