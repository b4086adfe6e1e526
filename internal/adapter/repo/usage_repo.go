package repo

import (
	"context"
	"time"

	"server/internal/domain"
)

// UsageRepositoryPG implements domain.UsageRepository backed by PostgreSQL.
type UsageRepositoryPG struct {
	db DBTX
}

// utcDay buckets a timestamp into its UTC calendar day. Formatting in Go
// keeps the bucket independent of the database session timezone.
func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Increment upserts today's counters for the user. Days are bucketed in
// UTC; the unique (user_id, day) index makes the counters monotonic per day.
func (r *UsageRepositoryPG) Increment(ctx context.Context, userID int64, day time.Time, tokens int) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO usage (user_id, day, requests, total_tokens)
VALUES ($1, $2::date, 1, $3)
ON CONFLICT (user_id, day) DO UPDATE
SET requests = usage.requests + 1,
    total_tokens = usage.total_tokens + EXCLUDED.total_tokens;
`, userID, utcDay(day), tokens)
	return err
}

// SumRequestsSince totals the user's requests from since onward.
func (r *UsageRepositoryPG) SumRequestsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var total int
	err := r.db.QueryRow(ctx, `
SELECT COALESCE(SUM(requests), 0) FROM usage WHERE user_id = $1 AND day >= $2::date;
`, userID, utcDay(since)).Scan(&total)
	return total, err
}

// Totals returns the user's lifetime request and token counts.
func (r *UsageRepositoryPG) Totals(ctx context.Context, userID int64) (int, int, error) {
	var requests, tokens int
	err := r.db.QueryRow(ctx, `
SELECT COALESCE(SUM(requests), 0), COALESCE(SUM(total_tokens), 0) FROM usage WHERE user_id = $1;
`, userID).Scan(&requests, &tokens)
	return requests, tokens, err
}

// ActiveUsersSince counts distinct users with usage from since onward.
func (r *UsageRepositoryPG) ActiveUsersSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
SELECT COUNT(DISTINCT user_id) FROM usage WHERE day >= $1::date;
`, utcDay(since)).Scan(&count)
	return count, err
}

var _ domain.UsageRepository = (*UsageRepositoryPG)(nil)
