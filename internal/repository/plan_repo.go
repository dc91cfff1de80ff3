package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

type PlanRepository struct {
	pool *pgxpool.Pool
}

func NewPlanRepository(pool *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

// ListActive returns assignable plans ordered by price
func (r *PlanRepository) ListActive(ctx context.Context) ([]*models.Plan, error) {
	query := `
		SELECT id, name, tier, price::text, duration_days, features, status, created_at
		FROM plans
		WHERE status = 'active'
		ORDER BY price ASC, name ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		plan, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// GetByID retrieves a plan, including retired plans referenced by
// historical subscriptions
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	query := `
		SELECT id, name, tier, price::text, duration_days, features, status, created_at
		FROM plans
		WHERE id = $1
	`
	return scanPlanRow(r.pool.QueryRow(ctx, query, id))
}

// Create registers a plan in the catalog
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) error {
	query := `
		INSERT INTO plans (id, name, tier, price, duration_days, features, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		plan.ID, plan.Name, plan.Tier, plan.Price.String(), plan.DurationDays, plan.Features, plan.Status,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// Retire marks a plan unassignable; historical subscriptions keep referencing it
func (r *PlanRepository) Retire(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE plans SET status = 'retired' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("retire plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPlanRow(row pgx.Row) (*models.Plan, error) {
	plan := &models.Plan{}
	var priceText string
	err := row.Scan(
		&plan.ID, &plan.Name, &plan.Tier, &priceText,
		&plan.DurationDays, &plan.Features, &plan.Status, &plan.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return nil, fmt.Errorf("parse plan price: %w", err)
	}
	plan.Price = price
	return plan, nil
}
