package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// PlanRepositoryPG implements domain.PlanRepository backed by PostgreSQL.
type PlanRepositoryPG struct {
	db DBTX
}

const planColumns = `id, name, price_stars, price_rub, monthly_quota, models_allowed, context_limit, is_active, created_at`

// GetByID fetches a plan by primary key.
func (r *PlanRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.Plan, error) {
	row := r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	return scanPlan(row)
}

// GetByName resolves a plan by its display name, the key payment metadata
// carries.
func (r *PlanRepositoryPG) GetByName(ctx context.Context, name string) (*domain.Plan, error) {
	row := r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE name = $1`, name)
	return scanPlan(row)
}

// ListActive returns the plans offered for sale.
func (r *PlanRepositoryPG) ListActive(ctx context.Context) ([]domain.Plan, error) {
	return r.list(ctx, `SELECT `+planColumns+` FROM plans WHERE is_active ORDER BY id`)
}

// List returns every plan, including retired ones.
func (r *PlanRepositoryPG) List(ctx context.Context) ([]domain.Plan, error) {
	return r.list(ctx, `SELECT `+planColumns+` FROM plans ORDER BY id`)
}

// Create inserts a new plan.
func (r *PlanRepositoryPG) Create(ctx context.Context, plan *domain.Plan) error {
	row := r.db.QueryRow(ctx, `
INSERT INTO plans (name, price_stars, price_rub, monthly_quota, models_allowed, context_limit, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at;
`, plan.Name, plan.PriceStars, plan.PriceRub, plan.MonthlyQuota, plan.ModelsAllowed, plan.ContextLimit, plan.IsActive)
	return row.Scan(&plan.ID, &plan.CreatedAt)
}

func (r *PlanRepositoryPG) list(ctx context.Context, query string) ([]domain.Plan, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var p domain.Plan
	if err := row.Scan(&p.ID, &p.Name, &p.PriceStars, &p.PriceRub, &p.MonthlyQuota, &p.ModelsAllowed, &p.ContextLimit, &p.IsActive, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

var _ domain.PlanRepository = (*PlanRepositoryPG)(nil)
