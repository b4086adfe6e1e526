package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// UserRepositoryPG implements domain.UserRepository backed by PostgreSQL.
type UserRepositoryPG struct {
	db DBTX
}

const userColumns = `id, lang, trial_left, plan_id, plan_until, banned, email, settings, created_at`

// Get fetches a user by Telegram id.
func (r *UserRepositoryPG) Get(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Create inserts a new user row.
func (r *UserRepositoryPG) Create(ctx context.Context, user *domain.User) error {
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return err
	}
	if user.Settings == nil {
		settings = []byte(`{}`)
	}
	row := r.db.QueryRow(ctx, `
INSERT INTO users (id, lang, trial_left, banned, email, settings)
VALUES ($1, $2, $3, false, $4, $5)
RETURNING created_at;
`, user.ID, user.Lang, user.TrialLeft, user.Email, settings)
	return row.Scan(&user.CreatedAt)
}

// DecrementTrial takes one trial request if any remain. The WHERE guard makes
// the decrement safe under concurrent calls for the same user.
func (r *UserRepositoryPG) DecrementTrial(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET trial_left = trial_left - 1 WHERE id = $1 AND trial_left > 0`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AddTrial adds amount to the user's remaining trial requests.
func (r *UserRepositoryPG) AddTrial(ctx context.Context, id int64, amount int) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET trial_left = trial_left + $2 WHERE id = $1`, id, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetPlan attaches a plan and its expiry to the user.
func (r *UserRepositoryPG) SetPlan(ctx context.Context, id int64, planID int64, until time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET plan_id = $2, plan_until = $3 WHERE id = $1`, id, planID, until)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetBanned flips the user's banned flag.
func (r *UserRepositoryPG) SetBanned(ctx context.Context, id int64, banned bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET banned = $2 WHERE id = $1`, id, banned)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetLang updates the user's preferred language.
func (r *UserRepositoryPG) SetLang(ctx context.Context, id int64, lang string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET lang = $2 WHERE id = $1`, id, lang)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns users newest-first for the admin surface.
func (r *UserRepositoryPG) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CountSince counts users created at or after since; nil counts all users.
func (r *UserRepositoryPG) CountSince(ctx context.Context, since *time.Time) (int, error) {
	var count int
	var err error
	if since == nil {
		err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	} else {
		err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= $1`, *since).Scan(&count)
	}
	return count, err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var settings []byte
	if err := row.Scan(&u.ID, &u.Lang, &u.TrialLeft, &u.PlanID, &u.PlanUntil, &u.Banned, &u.Email, &settings, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &u.Settings); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

var _ domain.UserRepository = (*UserRepositoryPG)(nil)
