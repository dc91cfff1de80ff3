package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// isUniqueViolation reports whether err is a postgres unique constraint error
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type SubscriberRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriberRepository(pool *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{pool: pool}
}

const subscriberColumns = `
	id, handle, name, email, password_hash, phone, country,
	is_active, is_premium, is_verified, is_superuser, created_at, updated_at`

// Create inserts a subscriber; the numeric handle is allocated by the
// database sequence and written back. Email must already be lowercased.
func (r *SubscriberRepository) Create(ctx context.Context, sub *models.Subscriber) error {
	query := `
		INSERT INTO subscribers (
			id, name, email, password_hash, phone, country,
			is_active, is_premium, is_verified, is_superuser
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING handle, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		sub.ID, sub.Name, sub.Email, sub.PasswordHash, sub.Phone, sub.Country,
		sub.IsActive, sub.IsPremium, sub.IsVerified, sub.IsSuperuser,
	).Scan(&sub.Handle, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert subscriber: %w", err)
	}

	return nil
}

// GetByID retrieves a subscriber by opaque identifier
func (r *SubscriberRepository) GetByID(ctx context.Context, id string) (*models.Subscriber, error) {
	query := `SELECT` + subscriberColumns + `FROM subscribers WHERE id = $1`
	return r.scanSubscriber(r.pool.QueryRow(ctx, query, id))
}

// GetByHandle retrieves a subscriber by the short numeric handle
func (r *SubscriberRepository) GetByHandle(ctx context.Context, handle int64) (*models.Subscriber, error) {
	query := `SELECT` + subscriberColumns + `FROM subscribers WHERE handle = $1`
	return r.scanSubscriber(r.pool.QueryRow(ctx, query, handle))
}

// GetByEmail retrieves a subscriber by email, case-insensitive
func (r *SubscriberRepository) GetByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	query := `SELECT` + subscriberColumns + `FROM subscribers WHERE lower(email) = lower($1)`
	return r.scanSubscriber(r.pool.QueryRow(ctx, query, email))
}

// UpdateProfile updates mutable profile fields
func (r *SubscriberRepository) UpdateProfile(ctx context.Context, id string, name string, phone, country *string) error {
	query := `
		UPDATE subscribers SET
			name = COALESCE(NULLIF($2, ''), name),
			phone = COALESCE($3, phone),
			country = COALESCE($4, country),
			updated_at = now()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, name, phone, country)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets the account flags
func (r *SubscriberRepository) UpdateStatus(ctx context.Context, id string, active, premium, superuser bool) error {
	query := `
		UPDATE subscribers SET
			is_active = $2, is_premium = $3, is_superuser = $4, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, active, premium, superuser)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPremium reconciles the cached premium flag with the entitlement decision
func (r *SubscriberRepository) SetPremium(ctx context.Context, id string, premium bool) error {
	query := `UPDATE subscribers SET is_premium = $2, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, premium)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return nil
}

// SetVerified marks the email as verified
func (r *SubscriberRepository) SetVerified(ctx context.Context, id string) error {
	query := `UPDATE subscribers SET is_verified = true, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPasswordHash replaces the stored password hash
func (r *SubscriberRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	query := `UPDATE subscribers SET password_hash = $2, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the total number of subscribers (operator dashboard)
func (r *SubscriberRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM subscribers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}

func (r *SubscriberRepository) scanSubscriber(row pgx.Row) (*models.Subscriber, error) {
	sub := &models.Subscriber{}
	err := row.Scan(
		&sub.ID, &sub.Handle, &sub.Name, &sub.Email, &sub.PasswordHash, &sub.Phone, &sub.Country,
		&sub.IsActive, &sub.IsPremium, &sub.IsVerified, &sub.IsSuperuser, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	return sub, nil
}
