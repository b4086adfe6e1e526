package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"server/internal/domain"
)

// PurchaseRepositoryPG implements domain.PurchaseRepository backed by PostgreSQL.
type PurchaseRepositoryPG struct {
	db DBTX
}

// Insert writes a purchase record and fills in its generated id.
func (r *PurchaseRepositoryPG) Insert(ctx context.Context, purchase *domain.Purchase) error {
	payload, err := json.Marshal(purchase.Payload)
	if err != nil {
		return err
	}
	if purchase.Payload == nil {
		payload = []byte(`{}`)
	}
	row := r.db.QueryRow(ctx, `
INSERT INTO purchases (user_id, plan_id, via, status, amount, currency, idempotency_key, payload, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at;
`, purchase.UserID, purchase.PlanID, purchase.Via, purchase.Status, purchase.Amount,
		purchase.Currency, purchase.IdempotencyKey, payload, purchase.CompletedAt)
	return row.Scan(&purchase.ID, &purchase.CreatedAt)
}

// ExistsCompleted reports whether a completed purchase already carries the key.
func (r *PurchaseRepositoryPG) ExistsCompleted(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM purchases WHERE idempotency_key = $1 AND status = 'completed'
)`, idempotencyKey).Scan(&exists)
	return exists, err
}

// History returns the user's purchases newest-first with plan names resolved.
func (r *PurchaseRepositoryPG) History(ctx context.Context, userID int64, limit int) ([]domain.PurchaseHistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
SELECT p.id, p.user_id, p.plan_id, p.via, p.status, p.amount, p.currency,
       p.idempotency_key, p.payload, p.created_at, p.completed_at, pl.name
FROM purchases p
LEFT JOIN plans pl ON pl.id = p.plan_id
WHERE p.user_id = $1
ORDER BY p.created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.PurchaseHistoryEntry
	for rows.Next() {
		var e domain.PurchaseHistoryEntry
		var payload []byte
		var planName *string
		if err := rows.Scan(&e.ID, &e.UserID, &e.PlanID, &e.Via, &e.Status, &e.Amount, &e.Currency,
			&e.IdempotencyKey, &payload, &e.CreatedAt, &e.CompletedAt, &planName); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		if planName != nil {
			e.PlanName = *planName
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountCompletedByUser counts the user's completed purchases.
func (r *PurchaseRepositoryPG) CountCompletedByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchases WHERE user_id = $1 AND status = 'completed'`, userID).Scan(&count)
	return count, err
}

// RevenueSince sums completed purchase amounts from since; nil sums all time.
func (r *PurchaseRepositoryPG) RevenueSince(ctx context.Context, since *time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	var err error
	if since == nil {
		err = r.db.QueryRow(ctx,
			`SELECT COALESCE(SUM(amount), 0) FROM purchases WHERE status = 'completed'`).Scan(&total)
	} else {
		err = r.db.QueryRow(ctx,
			`SELECT COALESCE(SUM(amount), 0) FROM purchases WHERE status = 'completed' AND completed_at >= $1`,
			*since).Scan(&total)
	}
	return total, err
}

var _ domain.PurchaseRepository = (*PurchaseRepositoryPG)(nil)
