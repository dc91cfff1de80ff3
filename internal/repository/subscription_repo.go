package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

const subscriptionColumns = `
	id, subscriber_id, plan_id, start_at, end_at, status, auto_renew, canceled_at, created_at`

// Create inserts a pending subscription
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, subscriber_id, plan_id, start_at, end_at, status, auto_renew)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		sub.ID, sub.SubscriberID, sub.PlanID, sub.StartAt, sub.EndAt, sub.Status, sub.AutoRenew,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription
func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `FROM subscriptions WHERE id = $1`
	return r.scanSubscription(r.pool.QueryRow(ctx, query, id))
}

// GetLatestBySubscriber returns the most recent subscription for entitlement
// resolution, regardless of status
func (r *SubscriptionRepository) GetLatestBySubscriber(ctx context.Context, subscriberID string) (*models.Subscription, error) {
	query := `
		SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE subscriber_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanSubscription(r.pool.QueryRow(ctx, query, subscriberID))
}

// GetActiveBySubscriber returns the single active subscription, if any
func (r *SubscriptionRepository) GetActiveBySubscriber(ctx context.Context, subscriberID string) (*models.Subscription, error) {
	query := `
		SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE subscriber_id = $1 AND status = 'active'
		LIMIT 1
	`
	return r.scanSubscription(r.pool.QueryRow(ctx, query, subscriberID))
}

// Activate flips a pending subscription to active with the given period.
// Guarded on status='pending' so a replayed payment webhook is a no-op.
func (r *SubscriptionRepository) Activate(ctx context.Context, id string, startAt, endAt time.Time) error {
	query := `
		UPDATE subscriptions
		SET status = 'active', start_at = $2, end_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query, id, startAt, endAt)
	if err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAutoRenew toggles renewal; access is preserved until end_at. Turning
// renewal off stamps canceled_at so the expiry sweep can tell a user
// cancellation from a plain lapse; turning it back on clears the stamp.
func (r *SubscriptionRepository) SetAutoRenew(ctx context.Context, id string, autoRenew bool) error {
	query := `
		UPDATE subscriptions
		SET auto_renew = $2,
		    canceled_at = CASE WHEN $2 THEN NULL ELSE COALESCE(canceled_at, NOW()) END
		WHERE id = $1 AND status = 'active'
	`
	tag, err := r.pool.Exec(ctx, query, id, autoRenew)
	if err != nil {
		return fmt.Errorf("set auto_renew: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTerminal moves an active subscription to expired or canceled
func (r *SubscriptionRepository) MarkTerminal(ctx context.Context, id, status string) error {
	query := `UPDATE subscriptions SET status = $2 WHERE id = $1 AND status = 'active'`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("mark subscription %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireDue marks active subscriptions past end_at. Subscriptions the
// subscriber canceled earlier become canceled, the rest expired.
func (r *SubscriptionRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE subscriptions
		SET status = CASE WHEN canceled_at IS NULL THEN 'expired' ELSE 'canceled' END
		WHERE status = 'active' AND end_at IS NOT NULL AND end_at <= $1
	`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SubscriptionRepository) scanSubscription(row pgx.Row) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := row.Scan(
		&sub.ID, &sub.SubscriberID, &sub.PlanID, &sub.StartAt, &sub.EndAt,
		&sub.Status, &sub.AutoRenew, &sub.CanceledAt, &sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}

// ==================== Payments ====================

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create inserts a pending payment
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (id, subscriber_id, subscription_id, amount, method, status, external_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.SubscriberID, p.SubscriptionID, p.Amount.String(), p.Method, p.Status, p.ExternalRef,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	query := `
		SELECT id, subscriber_id, subscription_id, amount::text, method, status, external_ref, created_at
		FROM payments
		WHERE id = $1
	`
	p := &models.Payment{}
	var amountText string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.SubscriberID, &p.SubscriptionID, &amountText, &p.Method, &p.Status, &p.ExternalRef, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount: %w", err)
	}
	p.Amount = amount
	return p, nil
}

// SetStatus records the processor outcome. Guarded on status='pending' so a
// replayed webhook cannot flip a settled payment.
func (r *PaymentRepository) SetStatus(ctx context.Context, id, status string, externalRef *string) error {
	query := `
		UPDATE payments SET status = $2, external_ref = COALESCE($3, external_ref)
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query, id, status, externalRef)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
