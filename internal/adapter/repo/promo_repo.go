package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// PromoRepositoryPG implements domain.PromoRepository backed by PostgreSQL.
type PromoRepositoryPG struct {
	db DBTX
}

const promoColumns = `id, code, discount_percent, discount_fixed, until, max_uses, used, is_active, created_at`

// GetByCode fetches a promo by its code. Codes match case-insensitively,
// backed by the unique index on LOWER(code).
func (r *PromoRepositoryPG) GetByCode(ctx context.Context, code string) (*domain.Promo, error) {
	row := r.db.QueryRow(ctx, `SELECT `+promoColumns+` FROM promo WHERE LOWER(code) = LOWER($1)`, code)
	return scanPromo(row)
}

// ConsumeUse takes one redemption slot if any remain. The WHERE guard keeps
// used within max_uses under concurrent redemptions.
func (r *PromoRepositoryPG) ConsumeUse(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE promo SET used = used + 1 WHERE id = $1 AND used < max_uses`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Create inserts a new promo code.
func (r *PromoRepositoryPG) Create(ctx context.Context, promo *domain.Promo) error {
	row := r.db.QueryRow(ctx, `
INSERT INTO promo (code, discount_percent, discount_fixed, until, max_uses, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at;
`, promo.Code, promo.DiscountPercent, promo.DiscountFixed, promo.Until, promo.MaxUses, promo.IsActive)
	return row.Scan(&promo.ID, &promo.CreatedAt)
}

// List returns every promo code for the admin surface.
func (r *PromoRepositoryPG) List(ctx context.Context) ([]domain.Promo, error) {
	rows, err := r.db.Query(ctx, `SELECT `+promoColumns+` FROM promo ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promos []domain.Promo
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		promos = append(promos, *p)
	}
	return promos, rows.Err()
}

func scanPromo(row pgx.Row) (*domain.Promo, error) {
	var p domain.Promo
	if err := row.Scan(&p.ID, &p.Code, &p.DiscountPercent, &p.DiscountFixed, &p.Until, &p.MaxUses, &p.Used, &p.IsActive, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

var _ domain.PromoRepository = (*PromoRepositoryPG)(nil)
