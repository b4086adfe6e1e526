package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// DBTX is the executor contract shared by pgxpool.Pool and pgx.Tx so every
// repository runs unchanged inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ DBTX = (*pgxpool.Pool)(nil)
	_ DBTX = (pgx.Tx)(nil)
)

// Store implements domain.Store backed by PostgreSQL.
type Store struct {
	db        DBTX
	users     *UserRepositoryPG
	plans     *PlanRepositoryPG
	purchases *PurchaseRepositoryPG
	usage     *UsageRepositoryPG
	promos    *PromoRepositoryPG
	dialogs   *DialogRepositoryPG
	messages  *MessageRepositoryPG
}

// NewStore creates a Store over a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return newStore(pool)
}

func newStore(db DBTX) *Store {
	return &Store{
		db:        db,
		users:     &UserRepositoryPG{db: db},
		plans:     &PlanRepositoryPG{db: db},
		purchases: &PurchaseRepositoryPG{db: db},
		usage:     &UsageRepositoryPG{db: db},
		promos:    &PromoRepositoryPG{db: db},
		dialogs:   &DialogRepositoryPG{db: db},
		messages:  &MessageRepositoryPG{db: db},
	}
}

func (s *Store) Users() domain.UserRepository         { return s.users }
func (s *Store) Plans() domain.PlanRepository         { return s.plans }
func (s *Store) Purchases() domain.PurchaseRepository { return s.purchases }
func (s *Store) Usage() domain.UsageRepository        { return s.usage }
func (s *Store) Promos() domain.PromoRepository       { return s.promos }
func (s *Store) Dialogs() domain.DialogRepository     { return s.dialogs }
func (s *Store) Messages() domain.MessageRepository   { return s.messages }

// WithTx runs fn against a store bound to one transaction. A nested call
// opens a savepoint because pgx.Tx.Begin does.
func (s *Store) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(newStore(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ domain.Store = (*Store)(nil)
