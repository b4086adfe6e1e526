package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// DialogRepositoryPG implements domain.DialogRepository backed by PostgreSQL.
type DialogRepositoryPG struct {
	db DBTX
}

const dialogColumns = `id, user_id, title, is_pinned, created_at, updated_at`

// Create inserts a dialog and fills in its generated fields.
func (r *DialogRepositoryPG) Create(ctx context.Context, dialog *domain.Dialog) error {
	row := r.db.QueryRow(ctx, `
INSERT INTO dialogs (user_id, title)
VALUES ($1, $2)
RETURNING id, created_at, updated_at;
`, dialog.UserID, dialog.Title)
	return row.Scan(&dialog.ID, &dialog.CreatedAt, &dialog.UpdatedAt)
}

// GetForUser fetches a dialog only when it belongs to the user.
func (r *DialogRepositoryPG) GetForUser(ctx context.Context, id, userID int64) (*domain.Dialog, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+dialogColumns+` FROM dialogs WHERE id = $1 AND user_id = $2`, id, userID)
	return scanDialog(row)
}

// ListByUser returns the user's dialogs, most recently active first.
func (r *DialogRepositoryPG) ListByUser(ctx context.Context, userID int64) ([]domain.Dialog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+dialogColumns+` FROM dialogs WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dialogs []domain.Dialog
	for rows.Next() {
		d, err := scanDialog(rows)
		if err != nil {
			return nil, err
		}
		dialogs = append(dialogs, *d)
	}
	return dialogs, rows.Err()
}

// SetTitle replaces the dialog title.
func (r *DialogRepositoryPG) SetTitle(ctx context.Context, id int64, title string) error {
	tag, err := r.db.Exec(ctx, `UPDATE dialogs SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a dialog; messages cascade at the schema level.
func (r *DialogRepositoryPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM dialogs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetPinned updates the dialog's pinned flag.
func (r *DialogRepositoryPG) SetPinned(ctx context.Context, id int64, pinned bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE dialogs SET is_pinned = $2 WHERE id = $1`, id, pinned)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Touch bumps the dialog's last-activity timestamp.
func (r *DialogRepositoryPG) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE dialogs SET updated_at = $2 WHERE id = $1`, id, at)
	return err
}

func scanDialog(row pgx.Row) (*domain.Dialog, error) {
	var d domain.Dialog
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.IsPinned, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

var _ domain.DialogRepository = (*DialogRepositoryPG)(nil)

// MessageRepositoryPG implements domain.MessageRepository backed by PostgreSQL.
type MessageRepositoryPG struct {
	db DBTX
}

// Insert writes one dialog turn.
func (r *MessageRepositoryPG) Insert(ctx context.Context, message *domain.Message) error {
	row := r.db.QueryRow(ctx, `
INSERT INTO messages (dialog_id, role, content, tokens, model_used)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at;
`, message.DialogID, message.Role, message.Content, message.Tokens, message.ModelUsed)
	return row.Scan(&message.ID, &message.CreatedAt)
}

// ListByDialog returns the dialog's messages in chronological order.
func (r *MessageRepositoryPG) ListByDialog(ctx context.Context, dialogID int64) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, dialog_id, role, content, tokens, model_used, created_at
FROM messages
WHERE dialog_id = $1
ORDER BY created_at, id;
`, dialogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.DialogID, &m.Role, &m.Content, &m.Tokens, &m.ModelUsed, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

var _ domain.MessageRepository = (*MessageRepositoryPG)(nil)
