package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UserRepository defines access methods for users. The conditional mutators
// (DecrementTrial, AddTrial, SetPlan) report false when no row matched so
// callers can distinguish "absent user" from a store failure.
type UserRepository interface {
	Get(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, user *User) error
	// DecrementTrial atomically takes one trial request, guarded by
	// trial_left > 0. It never drives the counter negative under
	// concurrent calls.
	DecrementTrial(ctx context.Context, id int64) (bool, error)
	AddTrial(ctx context.Context, id int64, amount int) (bool, error)
	SetPlan(ctx context.Context, id int64, planID int64, until time.Time) (bool, error)
	SetBanned(ctx context.Context, id int64, banned bool) error
	SetLang(ctx context.Context, id int64, lang string) error
	List(ctx context.Context, limit, offset int) ([]User, error)
	CountSince(ctx context.Context, since *time.Time) (int, error)
}

// PlanRepository defines persistence for subscription tiers.
type PlanRepository interface {
	GetByID(ctx context.Context, id int64) (*Plan, error)
	GetByName(ctx context.Context, name string) (*Plan, error)
	ListActive(ctx context.Context) ([]Plan, error)
	List(ctx context.Context) ([]Plan, error)
	Create(ctx context.Context, plan *Plan) error
}

// PurchaseHistoryEntry is a purchase joined with its plan name for display.
type PurchaseHistoryEntry struct {
	Purchase
	PlanName string
}

// PurchaseRepository persists completed payment records.
type PurchaseRepository interface {
	Insert(ctx context.Context, purchase *Purchase) error
	// ExistsCompleted reports whether a completed purchase already carries
	// the given idempotency key.
	ExistsCompleted(ctx context.Context, idempotencyKey string) (bool, error)
	History(ctx context.Context, userID int64, limit int) ([]PurchaseHistoryEntry, error)
	CountCompletedByUser(ctx context.Context, userID int64) (int, error)
	RevenueSince(ctx context.Context, since *time.Time) (decimal.Decimal, error)
}

// UsageRepository upserts daily usage counters.
type UsageRepository interface {
	// Increment bumps today's row for the user by one request and the
	// given token count, inserting the row when absent.
	Increment(ctx context.Context, userID int64, day time.Time, tokens int) error
	SumRequestsSince(ctx context.Context, userID int64, since time.Time) (int, error)
	Totals(ctx context.Context, userID int64) (requests int, tokens int, err error)
	ActiveUsersSince(ctx context.Context, since time.Time) (int, error)
}

// PromoRepository persists discount codes.
type PromoRepository interface {
	GetByCode(ctx context.Context, code string) (*Promo, error)
	// ConsumeUse atomically takes one redemption slot, guarded by
	// used < max_uses.
	ConsumeUse(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, promo *Promo) error
	List(ctx context.Context) ([]Promo, error)
}

// DialogRepository persists conversation threads.
type DialogRepository interface {
	Create(ctx context.Context, dialog *Dialog) error
	// GetForUser fetches a dialog only when it belongs to the user.
	GetForUser(ctx context.Context, id, userID int64) (*Dialog, error)
	ListByUser(ctx context.Context, userID int64) ([]Dialog, error)
	SetTitle(ctx context.Context, id int64, title string) error
	Delete(ctx context.Context, id int64) error
	SetPinned(ctx context.Context, id int64, pinned bool) error
	Touch(ctx context.Context, id int64, at time.Time) error
}

// MessageRepository persists dialog turns.
type MessageRepository interface {
	Insert(ctx context.Context, message *Message) error
	ListByDialog(ctx context.Context, dialogID int64) ([]Message, error)
}

// Store bundles the repositories behind a single transactional boundary.
// WithTx runs fn against a store whose repositories share one transaction;
// returning an error rolls everything back.
type Store interface {
	Users() UserRepository
	Plans() PlanRepository
	Purchases() PurchaseRepository
	Usage() UsageRepository
	Promos() PromoRepository
	Dialogs() DialogRepository
	Messages() MessageRepository
	WithTx(ctx context.Context, fn func(Store) error) error
}
