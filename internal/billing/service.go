// Package billing is the single source of truth for request entitlements:
// trial balances, subscription windows, usage accounting and promo codes.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Service answers whether a user may consume one unit of service and records
// what happens when they do. It holds no state of its own; every decision is
// a fresh read-modify-write against the store.
type Service struct {
	store         domain.Store
	logger        zerolog.Logger
	trialRequests int
	now           func() time.Time
}

// Options configures a billing Service.
type Options struct {
	Store         domain.Store
	Logger        zerolog.Logger
	TrialRequests int
	Now           func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(opts Options) *Service {
	trial := opts.TrialRequests
	if trial <= 0 {
		trial = domain.DefaultTrialRequests
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:         opts.Store,
		logger:        opts.Logger,
		trialRequests: trial,
		now:           now,
	}
}

// QuotaView is a point-in-time snapshot of a user's entitlement.
type QuotaView struct {
	TrialLeft     int
	PlanName      string
	PlanUntil     *time.Time
	MonthlyQuota  int
	UsedThisMonth int
	// Remaining is the number of requests still available. Meaningless
	// when Unlimited is set.
	Remaining int
	Unlimited bool
	IsTrial   bool
}

// GetQuota computes the user's current entitlement. Unknown users get a
// synthetic full-trial view without a row being created.
func (s *Service) GetQuota(ctx context.Context, userID int64) (*QuotaView, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &QuotaView{
				TrialLeft: s.trialRequests,
				Remaining: s.trialRequests,
				IsTrial:   true,
			}, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.now()
	view := &QuotaView{TrialLeft: user.TrialLeft, IsTrial: true}

	var plan *domain.Plan
	if user.HasActivePlan(now) {
		plan, err = s.store.Plans().GetByID(ctx, *user.PlanID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load plan: %w", err)
		}
	}

	used, err := s.store.Usage().SumRequestsSince(ctx, userID, startOfMonth(now))
	if err != nil {
		return nil, fmt.Errorf("sum usage: %w", err)
	}
	view.UsedThisMonth = used

	if plan != nil {
		view.IsTrial = false
		view.PlanName = plan.Name
		view.PlanUntil = user.PlanUntil
		view.MonthlyQuota = plan.MonthlyQuota
		if plan.IsUnlimited() {
			view.Unlimited = true
		} else if remaining := plan.MonthlyQuota - used; remaining > 0 {
			view.Remaining = remaining
		}
		return view, nil
	}

	if user.TrialLeft > 0 {
		view.Remaining = user.TrialLeft
	}
	return view, nil
}

// CanMakeRequest reports whether one more request is allowed right now.
func (s *Service) CanMakeRequest(ctx context.Context, userID int64) (bool, error) {
	quota, err := s.GetQuota(ctx, userID)
	if err != nil {
		return false, err
	}
	return quota.Unlimited || quota.Remaining > 0, nil
}

// ConsumeRequest atomically takes one request from the user's entitlement and
// logs usage in the same transaction. Trial users go through a conditional
// decrement, so concurrent calls cannot drive the balance negative; capped
// plan holders are checked against the month's usage inside the same
// transaction, so the ceiling holds under concurrency too.
func (s *Service) ConsumeRequest(ctx context.Context, userID int64, tokens int) (bool, error) {
	var consumed bool
	err := s.store.WithTx(ctx, func(tx domain.Store) error {
		user, err := tx.Users().Get(ctx, userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}

		now := s.now()
		var plan *domain.Plan
		if user.HasActivePlan(now) {
			plan, err = tx.Plans().GetByID(ctx, *user.PlanID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		switch {
		case plan == nil:
			ok, err := tx.Users().DecrementTrial(ctx, userID)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		case !plan.IsUnlimited():
			used, err := tx.Usage().SumRequestsSince(ctx, userID, startOfMonth(now))
			if err != nil {
				return err
			}
			if used >= plan.MonthlyQuota {
				return nil
			}
		}

		if err := tx.Usage().Increment(ctx, userID, now, tokens); err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("consume request: %w", err)
	}
	return consumed, nil
}

// ActivatePlan attaches a plan to the user with an expiry window counted from
// now. Re-activating resets the window rather than extending it. Returns
// false only when the user does not exist.
func (s *Service) ActivatePlan(ctx context.Context, userID, planID int64, durationDays int) (bool, error) {
	return s.activatePlan(ctx, s.store, userID, planID, durationDays)
}

// ActivatePlanTx is ActivatePlan running inside the caller's transaction; the
// payment reconciler uses it to keep purchase insert and activation atomic.
func (s *Service) ActivatePlanTx(ctx context.Context, tx domain.Store, userID, planID int64, durationDays int) (bool, error) {
	return s.activatePlan(ctx, tx, userID, planID, durationDays)
}

func (s *Service) activatePlan(ctx context.Context, store domain.Store, userID, planID int64, durationDays int) (bool, error) {
	if durationDays <= 0 {
		durationDays = 30
	}
	until := s.now().AddDate(0, 0, durationDays)
	ok, err := store.Users().SetPlan(ctx, userID, planID, until)
	if err != nil {
		return false, fmt.Errorf("activate plan: %w", err)
	}
	if ok {
		s.logger.Info().
			Int64("user_id", userID).
			Int64("plan_id", planID).
			Int("duration_days", durationDays).
			Msg("plan activated")
	}
	return ok, nil
}

// AddTrialRequests adds amount to the user's trial balance. Amount validation
// is the caller's responsibility. Returns false when the user does not exist.
func (s *Service) AddTrialRequests(ctx context.Context, userID int64, amount int) (bool, error) {
	ok, err := s.store.Users().AddTrial(ctx, userID, amount)
	if err != nil {
		return false, fmt.Errorf("add trial requests: %w", err)
	}
	if ok {
		s.logger.Info().
			Int64("user_id", userID).
			Int("amount", amount).
			Msg("trial requests added")
	}
	return ok, nil
}

// ValidatePromo looks up a redeemable promo by code. Expired, exhausted,
// inactive and unknown codes all return nil without error.
func (s *Service) ValidatePromo(ctx context.Context, code string) (*domain.Promo, error) {
	promo, err := s.store.Promos().GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load promo: %w", err)
	}
	if !promo.Applicable(s.now()) {
		return nil, nil
	}
	return promo, nil
}

// ApplyPromo takes one redemption slot. The increment is conditional on
// used < max_uses, so concurrent redemptions cannot overrun the bound.
func (s *Service) ApplyPromo(ctx context.Context, promoID int64) (bool, error) {
	ok, err := s.store.Promos().ConsumeUse(ctx, promoID)
	if err != nil {
		return false, fmt.Errorf("apply promo: %w", err)
	}
	return ok, nil
}

// Plans returns the tiers currently offered for sale.
func (s *Service) Plans(ctx context.Context) ([]domain.Plan, error) {
	return s.store.Plans().ListActive(ctx)
}

// UserStats aggregates a user's lifetime activity.
type UserStats struct {
	TotalRequests  int
	TotalTokens    int
	PurchasesCount int
}

// GetUserStats returns lifetime totals for the admin surface.
func (s *Service) GetUserStats(ctx context.Context, userID int64) (*UserStats, error) {
	requests, tokens, err := s.store.Usage().Totals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	purchases, err := s.store.Purchases().CountCompletedByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("purchase count: %w", err)
	}
	return &UserStats{
		TotalRequests:  requests,
		TotalTokens:    tokens,
		PurchasesCount: purchases,
	}, nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
