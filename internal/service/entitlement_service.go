package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
	"github.com/wenwu/saas-platform/vpn-core/internal/repository"
)

// EntitlementService resolves what tier a subscriber is entitled to and
// drives the subscription purchase lifecycle
type EntitlementService struct {
	subscriberRepo   *repository.SubscriberRepository
	planRepo         *repository.PlanRepository
	subscriptionRepo *repository.SubscriptionRepository
	paymentRepo      *repository.PaymentRepository
}

// NewEntitlementService creates a new entitlement service
func NewEntitlementService(
	subscriberRepo *repository.SubscriberRepository,
	planRepo *repository.PlanRepository,
	subscriptionRepo *repository.SubscriptionRepository,
	paymentRepo *repository.PaymentRepository,
) *EntitlementService {
	return &EntitlementService{
		subscriberRepo:   subscriberRepo,
		planRepo:         planRepo,
		subscriptionRepo: subscriptionRepo,
		paymentRepo:      paymentRepo,
	}
}

// Resolve computes the subscriber's current entitlement from their latest
// subscription. The cached is_premium flag on the subscriber row is only a
// hint; this is the authoritative decision, and the flag is reconciled
// lazily whenever they disagree.
func (s *EntitlementService) Resolve(ctx context.Context, sub *models.Subscriber) (*models.Entitlement, error) {
	now := time.Now()

	latest, err := s.subscriptionRepo.GetLatestBySubscriber(ctx, sub.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to resolve entitlement", err)
	}

	var planTier string
	if latest != nil {
		plan, perr := s.planRepo.GetByID(ctx, latest.PlanID)
		if perr != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to load plan", perr)
		}
		planTier = plan.Tier
	}

	ent := computeEntitlement(latest, planTier, now)

	if sub.IsPremium != ent.Premium() {
		if err := s.subscriberRepo.SetPremium(ctx, sub.ID, ent.Premium()); err != nil {
			log.Printf("[Entitlement] Failed to reconcile premium flag for handle=%d: %v", sub.Handle, err)
		}
	}

	return ent, nil
}

// ListPlans returns the assignable catalog
func (s *EntitlementService) ListPlans(ctx context.Context) ([]models.PlanInfo, error) {
	plans, err := s.planRepo.ListActive(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list plans", err)
	}

	out := make([]models.PlanInfo, 0, len(plans))
	for _, p := range plans {
		out = append(out, models.PlanInfo{
			PlanID:       p.ID,
			Name:         p.Name,
			Tier:         p.Tier,
			Price:        p.Price.String(),
			DurationDays: p.DurationDays,
			Features:     p.Features,
		})
	}
	return out, nil
}

// Assign starts a subscription purchase: a pending subscription plus a
// pending payment the processor settles via webhook. Zero-price plans skip
// the processor and activate immediately.
func (s *EntitlementService) Assign(ctx context.Context, subscriberID string, req *models.AssignPlanRequest) (*models.SubscriptionResponse, error) {
	if !validPaymentMethod(req.PaymentMethod) {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown payment method %q", req.PaymentMethod)
	}

	plan, err := s.planRepo.GetByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "plan not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load plan", err)
	}
	if plan.Status != models.PlanStatusActive {
		return nil, apperr.New(apperr.KindInvalidInput, "plan is no longer available")
	}

	if existing, err := s.subscriptionRepo.GetActiveBySubscriber(ctx, subscriberID); err == nil && existing != nil {
		return nil, apperr.New(apperr.KindAlreadyExists, "an active subscription already exists").
			WithDetail("subscription_id", existing.ID)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to check subscriptions", err)
	}

	subscription := &models.Subscription{
		ID:           uuid.New().String(),
		SubscriberID: subscriberID,
		PlanID:       plan.ID,
		Status:       models.SubscriptionStatusPending,
		AutoRenew:    req.AutoRenew,
	}
	if err := s.subscriptionRepo.Create(ctx, subscription); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.New(apperr.KindAlreadyExists, "an active subscription already exists")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create subscription", err)
	}

	payment := &models.Payment{
		ID:             uuid.New().String(),
		SubscriberID:   subscriberID,
		SubscriptionID: subscription.ID,
		Amount:         plan.Price,
		Method:         req.PaymentMethod,
		Status:         models.PaymentStatusPending,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create payment", err)
	}

	log.Printf("[Entitlement] Subscription %s created for plan=%s amount=%s", subscription.ID, plan.Name, plan.Price)

	if plan.Price.IsZero() {
		if err := s.settleSuccess(ctx, payment, subscription, plan, nil); err != nil {
			return nil, err
		}
		subscription.Status = models.SubscriptionStatusActive
	}

	return s.subscriptionResponse(subscription, plan, payment.ID), nil
}

// ConfirmPayment applies the processor webhook. Replays are no-ops: the
// guarded status transitions make the whole path idempotent.
func (s *EntitlementService) ConfirmPayment(ctx context.Context, req *models.PaymentCallbackRequest) error {
	payment, err := s.paymentRepo.GetByID(ctx, req.PaymentRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "payment not found")
		}
		return apperr.Wrap(apperr.KindInternal, "failed to load payment", err)
	}

	subscription, err := s.subscriptionRepo.GetByID(ctx, payment.SubscriptionID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to load subscription", err)
	}
	plan, err := s.planRepo.GetByID(ctx, subscription.PlanID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to load plan", err)
	}

	var externalRef *string
	if req.ExternalID != "" {
		externalRef = &req.ExternalID
	}

	switch req.ExternalStatus {
	case models.PaymentStatusSuccess:
		return s.settleSuccess(ctx, payment, subscription, plan, externalRef)
	case models.PaymentStatusFailed:
		if err := s.paymentRepo.SetStatus(ctx, payment.ID, models.PaymentStatusFailed, externalRef); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil // already settled
			}
			return apperr.Wrap(apperr.KindInternal, "failed to record payment failure", err)
		}
		log.Printf("[Entitlement] Payment %s failed, subscription %s stays pending", payment.ID, subscription.ID)
		return nil
	default:
		return apperr.Newf(apperr.KindInvalidInput, "unknown external status %q", req.ExternalStatus)
	}
}

// GetSubscription returns the subscriber's latest subscription view
func (s *EntitlementService) GetSubscription(ctx context.Context, subscriberID string) (*models.SubscriptionResponse, error) {
	subscription, err := s.subscriptionRepo.GetLatestBySubscriber(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "no subscription found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load subscription", err)
	}

	plan, err := s.planRepo.GetByID(ctx, subscription.PlanID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load plan", err)
	}

	return s.subscriptionResponse(subscription, plan, ""), nil
}

// Cancel turns off auto-renew. Access is preserved until end_at; the expiry
// sweep moves the subscription to canceled when the period lapses.
func (s *EntitlementService) Cancel(ctx context.Context, subscriberID string) (*models.SubscriptionResponse, error) {
	subscription, err := s.subscriptionRepo.GetActiveBySubscriber(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "no active subscription")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load subscription", err)
	}

	// Always stamp the cancellation, even when renewal was already off, so
	// the expiry sweep ends the subscription as canceled rather than expired
	if err := s.subscriptionRepo.SetAutoRenew(ctx, subscription.ID, false); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to cancel subscription", err)
	}
	subscription.AutoRenew = false

	plan, err := s.planRepo.GetByID(ctx, subscription.PlanID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load plan", err)
	}

	log.Printf("[Entitlement] Subscription %s canceled, access until %v", subscription.ID, subscription.EndAt)
	return s.subscriptionResponse(subscription, plan, ""), nil
}

// ExpireDue sweeps active subscriptions past their end date; run periodically
func (s *EntitlementService) ExpireDue(ctx context.Context) {
	n, err := s.subscriptionRepo.ExpireDue(ctx, time.Now())
	if err != nil {
		log.Printf("[Entitlement] Expiry sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Entitlement] Expiry sweep closed %d subscription(s)", n)
	}
}

// settleSuccess records the payment and activates the subscription period
func (s *EntitlementService) settleSuccess(ctx context.Context, payment *models.Payment, subscription *models.Subscription, plan *models.Plan, externalRef *string) error {
	if err := s.paymentRepo.SetStatus(ctx, payment.ID, models.PaymentStatusSuccess, externalRef); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil // replayed webhook, already settled
		}
		return apperr.Wrap(apperr.KindInternal, "failed to record payment", err)
	}

	now := time.Now()
	endAt := now.AddDate(0, 0, plan.DurationDays)
	if err := s.subscriptionRepo.Activate(ctx, subscription.ID, now, endAt); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.KindInternal, "failed to activate subscription", err)
	}

	if err := s.subscriberRepo.SetPremium(ctx, subscription.SubscriberID, plan.Tier == models.TierPaid); err != nil {
		log.Printf("[Entitlement] Failed to update premium flag: %v", err)
	}

	log.Printf("[Entitlement] Subscription %s activated until %s", subscription.ID, endAt.Format(time.RFC3339))
	return nil
}

func (s *EntitlementService) subscriptionResponse(sub *models.Subscription, plan *models.Plan, paymentID string) *models.SubscriptionResponse {
	resp := &models.SubscriptionResponse{
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PlanName:       plan.Name,
		Tier:           plan.Tier,
		Status:         sub.Status,
		AutoRenew:      sub.AutoRenew,
		PaymentID:      paymentID,
	}
	if sub.StartAt != nil {
		resp.StartAt = sub.StartAt.Format(time.RFC3339)
	}
	if sub.EndAt != nil {
		resp.EndAt = sub.EndAt.Format(time.RFC3339)
	}
	return resp
}

// computeEntitlement is the pure tier decision: the latest subscription
// grants its plan tier while active and unexpired, otherwise free.
func computeEntitlement(sub *models.Subscription, planTier string, now time.Time) *models.Entitlement {
	if sub == nil || sub.Status != models.SubscriptionStatusActive {
		return &models.Entitlement{Tier: models.TierFree}
	}
	if sub.EndAt != nil && !sub.EndAt.After(now) {
		return &models.Entitlement{Tier: models.TierFree}
	}
	planID := sub.PlanID
	return &models.Entitlement{
		Tier:      planTier,
		Active:    true,
		PlanID:    &planID,
		ExpiresAt: sub.EndAt,
	}
}

// BuildPlan validates operator input and assembles a catalog entry
func BuildPlan(name, tier, price string, durationDays int, features map[string]interface{}) (*models.Plan, error) {
	if tier != models.TierFree && tier != models.TierPaid {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown tier %q", tier)
	}
	amount, err := decimal.NewFromString(price)
	if err != nil || amount.IsNegative() {
		return nil, apperr.Newf(apperr.KindInvalidInput, "invalid price %q", price)
	}
	if durationDays <= 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "duration_days must be positive")
	}
	return &models.Plan{
		ID:           uuid.New().String(),
		Name:         name,
		Tier:         tier,
		Price:        amount,
		DurationDays: durationDays,
		Features:     features,
		Status:       models.PlanStatusActive,
	}, nil
}

func validPaymentMethod(m string) bool {
	switch m {
	case models.PaymentMethodCard, models.PaymentMethodWallet, models.PaymentMethodInApp, models.PaymentMethodCrypto:
		return true
	}
	return false
}
