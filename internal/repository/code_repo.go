package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

type CodeRepository struct {
	pool *pgxpool.Pool
}

func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

// Issue stores a fresh code, invalidating any prior unconsumed code for the
// same (email, purpose) in the same transaction so at most one survives
func (r *CodeRepository) Issue(ctx context.Context, code *models.VerificationCode) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin issue code: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE verification_codes SET consumed = true WHERE lower(email) = lower($1) AND purpose = $2 AND consumed = false`,
		code.Email, code.Purpose,
	)
	if err != nil {
		return fmt.Errorf("invalidate prior codes: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO verification_codes (id, email, code, purpose, expires_at, consumed, attempts)
		 VALUES ($1, $2, $3, $4, $5, false, 0)`,
		code.ID, code.Email, code.Code, code.Purpose, code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}

	return tx.Commit(ctx)
}

// GetUnconsumed fetches the live code for (email, purpose)
func (r *CodeRepository) GetUnconsumed(ctx context.Context, email, purpose string) (*models.VerificationCode, error) {
	query := `
		SELECT id, email, code, purpose, expires_at, consumed, attempts, created_at
		FROM verification_codes
		WHERE lower(email) = lower($1) AND purpose = $2 AND consumed = false
		ORDER BY created_at DESC
		LIMIT 1
	`
	c := &models.VerificationCode{}
	err := r.pool.QueryRow(ctx, query, email, purpose).Scan(
		&c.ID, &c.Email, &c.Code, &c.Purpose, &c.ExpiresAt, &c.Consumed, &c.Attempts, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan verification code: %w", err)
	}
	return c, nil
}

// Consume marks a code used. Guarded on consumed=false so concurrent verify
// calls settle to exactly one winner.
func (r *CodeRepository) Consume(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE verification_codes SET consumed = true WHERE id = $1 AND consumed = false`, id)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFailure bumps the attempt counter and invalidates the code once the
// limit is reached; returns the new attempt count
func (r *CodeRepository) RecordFailure(ctx context.Context, id string, maxAttempts int) (int, error) {
	var attempts int
	query := `
		UPDATE verification_codes
		SET attempts = attempts + 1,
		    consumed = (attempts + 1 >= $2)
		WHERE id = $1 AND consumed = false
		RETURNING attempts
	`
	err := r.pool.QueryRow(ctx, query, id, maxAttempts).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("record code failure: %w", err)
	}
	return attempts, nil
}
