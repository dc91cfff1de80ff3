package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

func TestComputeEntitlement(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name        string
		sub         *models.Subscription
		planTier    string
		wantTier    string
		wantActive  bool
		wantPremium bool
	}{
		{
			name:     "no subscription is free tier",
			sub:      nil,
			wantTier: models.TierFree,
		},
		{
			name:     "pending subscription grants nothing",
			sub:      &models.Subscription{Status: models.SubscriptionStatusPending},
			planTier: models.TierPaid,
			wantTier: models.TierFree,
		},
		{
			name: "active unexpired paid subscription",
			sub: &models.Subscription{
				ID:     "s1",
				PlanID: "p1",
				Status: models.SubscriptionStatusActive,
				EndAt:  &future,
			},
			planTier:    models.TierPaid,
			wantTier:    models.TierPaid,
			wantActive:  true,
			wantPremium: true,
		},
		{
			name: "active but expired falls back to free",
			sub: &models.Subscription{
				Status: models.SubscriptionStatusActive,
				EndAt:  &past,
			},
			planTier: models.TierPaid,
			wantTier: models.TierFree,
		},
		{
			name: "end exactly now counts as expired",
			sub: &models.Subscription{
				Status: models.SubscriptionStatusActive,
				EndAt:  &now,
			},
			planTier: models.TierPaid,
			wantTier: models.TierFree,
		},
		{
			name: "canceled status is terminal and free",
			sub: &models.Subscription{
				Status: models.SubscriptionStatusCanceled,
				EndAt:  &future,
			},
			planTier: models.TierPaid,
			wantTier: models.TierFree,
		},
		{
			name: "active with cancellation stamped keeps access until end",
			sub: &models.Subscription{
				ID:         "s2",
				PlanID:     "p1",
				Status:     models.SubscriptionStatusActive,
				EndAt:      &future,
				CanceledAt: &past,
			},
			planTier:    models.TierPaid,
			wantTier:    models.TierPaid,
			wantActive:  true,
			wantPremium: true,
		},
		{
			name: "active free plan stays free tier but active",
			sub: &models.Subscription{
				PlanID: "p2",
				Status: models.SubscriptionStatusActive,
				EndAt:  &future,
			},
			planTier:   models.TierFree,
			wantTier:   models.TierFree,
			wantActive: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ent := computeEntitlement(tc.sub, tc.planTier, now)
			assert.Equal(t, tc.wantTier, ent.Tier)
			assert.Equal(t, tc.wantActive, ent.Active)
			assert.Equal(t, tc.wantPremium, ent.Premium())
			if tc.wantActive {
				require.NotNil(t, ent.PlanID)
				assert.Equal(t, tc.sub.PlanID, *ent.PlanID)
				assert.Equal(t, tc.sub.EndAt, ent.ExpiresAt)
			} else {
				assert.Nil(t, ent.PlanID)
				assert.Nil(t, ent.ExpiresAt)
			}
		})
	}
}

func TestBuildPlan(t *testing.T) {
	plan, err := BuildPlan("Premium Monthly", models.TierPaid, "9.99", 30, map[string]interface{}{"devices": 5})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "Premium Monthly", plan.Name)
	assert.Equal(t, models.TierPaid, plan.Tier)
	assert.Equal(t, "9.99", plan.Price.StringFixed(2))
	assert.Equal(t, 30, plan.DurationDays)
	assert.Equal(t, models.PlanStatusActive, plan.Status)
}

func TestBuildPlanValidation(t *testing.T) {
	tests := []struct {
		name     string
		tier     string
		price    string
		duration int
	}{
		{"unknown tier", "gold", "9.99", 30},
		{"malformed price", models.TierPaid, "nine", 30},
		{"negative price", models.TierPaid, "-1.00", 30},
		{"zero duration", models.TierPaid, "9.99", 0},
		{"negative duration", models.TierPaid, "9.99", -7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildPlan("Plan", tc.tier, tc.price, tc.duration, nil)
			assert.Error(t, err)
		})
	}
}

func TestBuildPlanZeroPrice(t *testing.T) {
	plan, err := BuildPlan("Free Tier", models.TierFree, "0", 365, nil)
	require.NoError(t, err)
	assert.True(t, plan.Price.IsZero())
}

func TestValidPaymentMethod(t *testing.T) {
	for _, m := range []string{"card", "wallet", "in_app", "crypto"} {
		assert.True(t, validPaymentMethod(m), m)
	}
	assert.False(t, validPaymentMethod("cash"))
	assert.False(t, validPaymentMethod(""))
	assert.False(t, validPaymentMethod("CARD"))
}
