// Package memstore provides an in-memory domain.Store with the same
// transactional and conditional-update semantics as the PostgreSQL adapter.
// It backs the unit tests of the billing, payment and chat packages.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"server/internal/domain"
)

// Store implements domain.Store in memory. A transaction takes the store
// lock for its whole duration, so check-then-act sequences inside WithTx are
// serialized exactly like row-locked SQL transactions.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	users     map[int64]domain.User
	plans     map[int64]domain.Plan
	purchases []domain.Purchase
	usage     map[usageKey]domain.Usage
	promos    map[int64]domain.Promo
	dialogs   map[int64]domain.Dialog
	messages  []domain.Message
	seq       int64
}

type usageKey struct {
	userID int64
	day    string
}

// New creates an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		users:   make(map[int64]domain.User),
		plans:   make(map[int64]domain.Plan),
		usage:   make(map[usageKey]domain.Usage),
		promos:  make(map[int64]domain.Promo),
		dialogs: make(map[int64]domain.Dialog),
	}
}

func (st *state) clone() *state {
	c := &state{
		users:     make(map[int64]domain.User, len(st.users)),
		plans:     make(map[int64]domain.Plan, len(st.plans)),
		purchases: append([]domain.Purchase(nil), st.purchases...),
		usage:     make(map[usageKey]domain.Usage, len(st.usage)),
		promos:    make(map[int64]domain.Promo, len(st.promos)),
		dialogs:   make(map[int64]domain.Dialog, len(st.dialogs)),
		messages:  append([]domain.Message(nil), st.messages...),
		seq:       st.seq,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.plans {
		c.plans[k] = v
	}
	for k, v := range st.usage {
		c.usage[k] = v
	}
	for k, v := range st.promos {
		c.promos[k] = v
	}
	for k, v := range st.dialogs {
		c.dialogs[k] = v
	}
	return c
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// view is a store bound to one state snapshot; it runs without locking and
// is only reachable from inside WithTx or a held store lock.
type view struct {
	st *state
}

func (v *view) Users() domain.UserRepository         { return &userRepo{st: v.st} }
func (v *view) Plans() domain.PlanRepository         { return &planRepo{st: v.st} }
func (v *view) Purchases() domain.PurchaseRepository { return &purchaseRepo{st: v.st} }
func (v *view) Usage() domain.UsageRepository        { return &usageRepo{st: v.st} }
func (v *view) Promos() domain.PromoRepository       { return &promoRepo{st: v.st} }
func (v *view) Dialogs() domain.DialogRepository     { return &dialogRepo{st: v.st} }
func (v *view) Messages() domain.MessageRepository   { return &messageRepo{st: v.st} }

func (v *view) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	return fn(v)
}

func (s *Store) Users() domain.UserRepository         { return &userRepo{store: s} }
func (s *Store) Plans() domain.PlanRepository         { return &planRepo{store: s} }
func (s *Store) Purchases() domain.PurchaseRepository { return &purchaseRepo{store: s} }
func (s *Store) Usage() domain.UsageRepository        { return &usageRepo{store: s} }
func (s *Store) Promos() domain.PromoRepository       { return &promoRepo{store: s} }
func (s *Store) Dialogs() domain.DialogRepository     { return &dialogRepo{store: s} }
func (s *Store) Messages() domain.MessageRepository   { return &messageRepo{store: s} }

// WithTx runs fn against a cloned state and swaps it in on success, so a
// failed transaction leaves no partial writes behind.
func (s *Store) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := s.st.clone()
	if err := fn(&view{st: clone}); err != nil {
		return err
	}
	s.st = clone
	return nil
}

var _ domain.Store = (*Store)(nil)

// do runs op against the current state, taking the store lock when the
// repository is not already inside a transaction.
func do[R any](store *Store, st *state, op func(*state) (R, error)) (R, error) {
	if st != nil {
		return op(st)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	return op(store.st)
}

type userRepo struct {
	store *Store
	st    *state
}

func (r *userRepo) Get(ctx context.Context, id int64) (*domain.User, error) {
	return do(r.store, r.st, func(st *state) (*domain.User, error) {
		u, ok := st.users[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		return &u, nil
	})
}

func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now()
		}
		st.users[user.ID] = *user
		return struct{}{}, nil
	})
	return err
}

func (r *userRepo) DecrementTrial(ctx context.Context, id int64) (bool, error) {
	return do(r.store, r.st, func(st *state) (bool, error) {
		u, ok := st.users[id]
		if !ok || u.TrialLeft <= 0 {
			return false, nil
		}
		u.TrialLeft--
		st.users[id] = u
		return true, nil
	})
}

func (r *userRepo) AddTrial(ctx context.Context, id int64, amount int) (bool, error) {
	return do(r.store, r.st, func(st *state) (bool, error) {
		u, ok := st.users[id]
		if !ok {
			return false, nil
		}
		u.TrialLeft += amount
		st.users[id] = u
		return true, nil
	})
}

func (r *userRepo) SetPlan(ctx context.Context, id int64, planID int64, until time.Time) (bool, error) {
	return do(r.store, r.st, func(st *state) (bool, error) {
		u, ok := st.users[id]
		if !ok {
			return false, nil
		}
		pid := planID
		u.PlanID = &pid
		exp := until
		u.PlanUntil = &exp
		st.users[id] = u
		return true, nil
	})
}

func (r *userRepo) SetBanned(ctx context.Context, id int64, banned bool) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		u, ok := st.users[id]
		if !ok {
			return struct{}{}, domain.ErrNotFound
		}
		u.Banned = banned
		st.users[id] = u
		return struct{}{}, nil
	})
	return err
}

func (r *userRepo) SetLang(ctx context.Context, id int64, lang string) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		u, ok := st.users[id]
		if !ok {
			return struct{}{}, domain.ErrNotFound
		}
		u.Lang = lang
		st.users[id] = u
		return struct{}{}, nil
	})
	return err
}

func (r *userRepo) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	return do(r.store, r.st, func(st *state) ([]domain.User, error) {
		users := make([]domain.User, 0, len(st.users))
		for _, u := range st.users {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool {
			return users[i].CreatedAt.After(users[j].CreatedAt)
		})
		if offset >= len(users) {
			return nil, nil
		}
		users = users[offset:]
		if limit > 0 && limit < len(users) {
			users = users[:limit]
		}
		return users, nil
	})
}

func (r *userRepo) CountSince(ctx context.Context, since *time.Time) (int, error) {
	return do(r.store, r.st, func(st *state) (int, error) {
		count := 0
		for _, u := range st.users {
			if since == nil || !u.CreatedAt.Before(*since) {
				count++
			}
		}
		return count, nil
	})
}

type planRepo struct {
	store *Store
	st    *state
}

func (r *planRepo) GetByID(ctx context.Context, id int64) (*domain.Plan, error) {
	return do(r.store, r.st, func(st *state) (*domain.Plan, error) {
		p, ok := st.plans[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		return &p, nil
	})
}

func (r *planRepo) GetByName(ctx context.Context, name string) (*domain.Plan, error) {
	return do(r.store, r.st, func(st *state) (*domain.Plan, error) {
		for _, p := range st.plans {
			if p.Name == name {
				plan := p
				return &plan, nil
			}
		}
		return nil, domain.ErrNotFound
	})
}

func (r *planRepo) ListActive(ctx context.Context) ([]domain.Plan, error) {
	return r.list(func(p domain.Plan) bool { return p.IsActive })
}

func (r *planRepo) List(ctx context.Context) ([]domain.Plan, error) {
	return r.list(func(domain.Plan) bool { return true })
}

func (r *planRepo) list(keep func(domain.Plan) bool) ([]domain.Plan, error) {
	return do(r.store, r.st, func(st *state) ([]domain.Plan, error) {
		var plans []domain.Plan
		for _, p := range st.plans {
			if keep(p) {
				plans = append(plans, p)
			}
		}
		sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
		return plans, nil
	})
}

func (r *planRepo) Create(ctx context.Context, plan *domain.Plan) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		plan.ID = st.nextID()
		if plan.CreatedAt.IsZero() {
			plan.CreatedAt = time.Now()
		}
		st.plans[plan.ID] = *plan
		return struct{}{}, nil
	})
	return err
}

type purchaseRepo struct {
	store *Store
	st    *state
}

func (r *purchaseRepo) Insert(ctx context.Context, purchase *domain.Purchase) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		purchase.ID = st.nextID()
		if purchase.CreatedAt.IsZero() {
			purchase.CreatedAt = time.Now()
		}
		st.purchases = append(st.purchases, *purchase)
		return struct{}{}, nil
	})
	return err
}

func (r *purchaseRepo) ExistsCompleted(ctx context.Context, idempotencyKey string) (bool, error) {
	return do(r.store, r.st, func(st *state) (bool, error) {
		for _, p := range st.purchases {
			if p.IdempotencyKey == idempotencyKey && p.Status == domain.PurchaseStatusCompleted {
				return true, nil
			}
		}
		return false, nil
	})
}

func (r *purchaseRepo) History(ctx context.Context, userID int64, limit int) ([]domain.PurchaseHistoryEntry, error) {
	return do(r.store, r.st, func(st *state) ([]domain.PurchaseHistoryEntry, error) {
		var entries []domain.PurchaseHistoryEntry
		for _, p := range st.purchases {
			if p.UserID != userID {
				continue
			}
			entry := domain.PurchaseHistoryEntry{Purchase: p}
			if plan, ok := st.plans[p.PlanID]; ok {
				entry.PlanName = plan.Name
			}
			entries = append(entries, entry)
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		})
		if limit > 0 && limit < len(entries) {
			entries = entries[:limit]
		}
		return entries, nil
	})
}

func (r *purchaseRepo) CountCompletedByUser(ctx context.Context, userID int64) (int, error) {
	return do(r.store, r.st, func(st *state) (int, error) {
		count := 0
		for _, p := range st.purchases {
			if p.UserID == userID && p.Status == domain.PurchaseStatusCompleted {
				count++
			}
		}
		return count, nil
	})
}

func (r *purchaseRepo) RevenueSince(ctx context.Context, since *time.Time) (decimal.Decimal, error) {
	return do(r.store, r.st, func(st *state) (decimal.Decimal, error) {
		total := decimal.Zero
		for _, p := range st.purchases {
			if p.Status != domain.PurchaseStatusCompleted {
				continue
			}
			if since != nil && (p.CompletedAt == nil || p.CompletedAt.Before(*since)) {
				continue
			}
			total = total.Add(p.Amount)
		}
		return total, nil
	})
}

type usageRepo struct {
	store *Store
	st    *state
}

func (r *usageRepo) Increment(ctx context.Context, userID int64, day time.Time, tokens int) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		key := usageKey{userID: userID, day: dayKey(day)}
		row, ok := st.usage[key]
		if !ok {
			row = domain.Usage{ID: st.nextID(), UserID: userID, Day: day.UTC().Truncate(24 * time.Hour)}
		}
		row.Requests++
		row.TotalTokens += tokens
		st.usage[key] = row
		return struct{}{}, nil
	})
	return err
}

func (r *usageRepo) SumRequestsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	return do(r.store, r.st, func(st *state) (int, error) {
		cutoff := dayKey(since)
		total := 0
		for key, row := range st.usage {
			if key.userID == userID && key.day >= cutoff {
				total += row.Requests
			}
		}
		return total, nil
	})
}

func (r *usageRepo) Totals(ctx context.Context, userID int64) (int, int, error) {
	type totals struct{ requests, tokens int }
	t, err := do(r.store, r.st, func(st *state) (totals, error) {
		var out totals
		for key, row := range st.usage {
			if key.userID == userID {
				out.requests += row.Requests
				out.tokens += row.TotalTokens
			}
		}
		return out, nil
	})
	return t.requests, t.tokens, err
}

func (r *usageRepo) ActiveUsersSince(ctx context.Context, since time.Time) (int, error) {
	return do(r.store, r.st, func(st *state) (int, error) {
		cutoff := dayKey(since)
		seen := make(map[int64]struct{})
		for key := range st.usage {
			if key.day >= cutoff {
				seen[key.userID] = struct{}{}
			}
		}
		return len(seen), nil
	})
}

type promoRepo struct {
	store *Store
	st    *state
}

func (r *promoRepo) GetByCode(ctx context.Context, code string) (*domain.Promo, error) {
	return do(r.store, r.st, func(st *state) (*domain.Promo, error) {
		for _, p := range st.promos {
			if strings.EqualFold(p.Code, code) {
				promo := p
				return &promo, nil
			}
		}
		return nil, domain.ErrNotFound
	})
}

func (r *promoRepo) ConsumeUse(ctx context.Context, id int64) (bool, error) {
	return do(r.store, r.st, func(st *state) (bool, error) {
		p, ok := st.promos[id]
		if !ok || p.Used >= p.MaxUses {
			return false, nil
		}
		p.Used++
		st.promos[id] = p
		return true, nil
	})
}

func (r *promoRepo) Create(ctx context.Context, promo *domain.Promo) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		promo.ID = st.nextID()
		if promo.CreatedAt.IsZero() {
			promo.CreatedAt = time.Now()
		}
		st.promos[promo.ID] = *promo
		return struct{}{}, nil
	})
	return err
}

func (r *promoRepo) List(ctx context.Context) ([]domain.Promo, error) {
	return do(r.store, r.st, func(st *state) ([]domain.Promo, error) {
		var promos []domain.Promo
		for _, p := range st.promos {
			promos = append(promos, p)
		}
		sort.Slice(promos, func(i, j int) bool { return promos[i].ID < promos[j].ID })
		return promos, nil
	})
}

type dialogRepo struct {
	store *Store
	st    *state
}

func (r *dialogRepo) Create(ctx context.Context, dialog *domain.Dialog) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		dialog.ID = st.nextID()
		now := time.Now()
		if dialog.CreatedAt.IsZero() {
			dialog.CreatedAt = now
		}
		if dialog.UpdatedAt.IsZero() {
			dialog.UpdatedAt = dialog.CreatedAt
		}
		st.dialogs[dialog.ID] = *dialog
		return struct{}{}, nil
	})
	return err
}

func (r *dialogRepo) GetForUser(ctx context.Context, id, userID int64) (*domain.Dialog, error) {
	return do(r.store, r.st, func(st *state) (*domain.Dialog, error) {
		d, ok := st.dialogs[id]
		if !ok || d.UserID != userID {
			return nil, domain.ErrNotFound
		}
		return &d, nil
	})
}

func (r *dialogRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Dialog, error) {
	return do(r.store, r.st, func(st *state) ([]domain.Dialog, error) {
		var dialogs []domain.Dialog
		for _, d := range st.dialogs {
			if d.UserID == userID {
				dialogs = append(dialogs, d)
			}
		}
		sort.Slice(dialogs, func(i, j int) bool {
			return dialogs[i].UpdatedAt.After(dialogs[j].UpdatedAt)
		})
		return dialogs, nil
	})
}

func (r *dialogRepo) SetTitle(ctx context.Context, id int64, title string) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		d, ok := st.dialogs[id]
		if !ok {
			return struct{}{}, domain.ErrNotFound
		}
		d.Title = title
		st.dialogs[id] = d
		return struct{}{}, nil
	})
	return err
}

func (r *dialogRepo) Delete(ctx context.Context, id int64) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		if _, ok := st.dialogs[id]; !ok {
			return struct{}{}, domain.ErrNotFound
		}
		delete(st.dialogs, id)
		kept := st.messages[:0]
		for _, m := range st.messages {
			if m.DialogID != id {
				kept = append(kept, m)
			}
		}
		st.messages = kept
		return struct{}{}, nil
	})
	return err
}

func (r *dialogRepo) SetPinned(ctx context.Context, id int64, pinned bool) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		d, ok := st.dialogs[id]
		if !ok {
			return struct{}{}, domain.ErrNotFound
		}
		d.IsPinned = pinned
		st.dialogs[id] = d
		return struct{}{}, nil
	})
	return err
}

func (r *dialogRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		d, ok := st.dialogs[id]
		if !ok {
			return struct{}{}, domain.ErrNotFound
		}
		d.UpdatedAt = at
		st.dialogs[id] = d
		return struct{}{}, nil
	})
	return err
}

type messageRepo struct {
	store *Store
	st    *state
}

func (r *messageRepo) Insert(ctx context.Context, message *domain.Message) error {
	_, err := do(r.store, r.st, func(st *state) (struct{}, error) {
		message.ID = st.nextID()
		if message.CreatedAt.IsZero() {
			message.CreatedAt = time.Now()
		}
		st.messages = append(st.messages, *message)
		return struct{}{}, nil
	})
	return err
}

func (r *messageRepo) ListByDialog(ctx context.Context, dialogID int64) ([]domain.Message, error) {
	return do(r.store, r.st, func(st *state) ([]domain.Message, error) {
		var messages []domain.Message
		for _, m := range st.messages {
			if m.DialogID == dialogID {
				messages = append(messages, m)
			}
		}
		sort.Slice(messages, func(i, j int) bool {
			if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
				return messages[i].ID < messages[j].ID
			}
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		})
		return messages, nil
	})
}
