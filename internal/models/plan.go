package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan tier constants. Servers reuse the same two-valued tier: a subscriber
// may only select servers whose tier is at or below their own.
const (
	TierFree = "free"
	TierPaid = "paid"
)

// Plan status constants
const (
	PlanStatusActive  = "active"
	PlanStatusRetired = "retired"
)

// Subscription status constants. Transitions are monotone:
// pending -> active -> canceled|expired; terminal states never transition back.
const (
	SubscriptionStatusPending  = "pending"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusExpired  = "expired"
	SubscriptionStatusCanceled = "canceled"
)

// Payment method constants
const (
	PaymentMethodCard   = "card"
	PaymentMethodWallet = "wallet"
	PaymentMethodInApp  = "in_app"
	PaymentMethodCrypto = "crypto"
)

// Payment status constants
const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// Plan is a purchasable subscription plan. Retired plans stay referenceable
// by historical subscriptions but cannot be newly assigned.
type Plan struct {
	ID           string
	Name         string
	Tier         string
	Price        decimal.Decimal
	DurationDays int
	Features     map[string]interface{}
	Status       string
	CreatedAt    time.Time
}

// Subscription links a subscriber to a plan for a period. At most one
// subscription per subscriber has status=active (enforced by partial index).
type Subscription struct {
	ID           string
	SubscriberID string
	PlanID       string
	StartAt      *time.Time
	EndAt        *time.Time
	Status       string
	AutoRenew    bool
	CanceledAt   *time.Time // set when the subscriber cancels; access runs until EndAt
	CreatedAt    time.Time
}

// Payment records a charge against a subscription. A subscription activates
// only after a success payment references it, unless the plan price is zero.
type Payment struct {
	ID             string
	SubscriberID   string
	SubscriptionID string
	Amount         decimal.Decimal
	Method         string
	Status         string
	ExternalRef    *string
	CreatedAt      time.Time
}

// Entitlement is the resolved access decision for a subscriber at a point in
// time. Tier is free when no active unexpired subscription exists.
type Entitlement struct {
	Tier      string
	Active    bool
	PlanID    *string
	ExpiresAt *time.Time
}

// Premium reports whether the entitlement grants access to premium servers.
func (e *Entitlement) Premium() bool {
	return e.Tier == TierPaid
}
