package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"server/internal/domain"
)

// AdminStats returns service-wide totals for the admin dashboard.
func (a *App) AdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.AddDate(0, 0, -7)

	totalUsers, err := a.Store.Users().CountSince(ctx, nil)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	newToday, err := a.Store.Users().CountSince(ctx, &dayAgo)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	activeWeek, err := a.Store.Usage().ActiveUsersSince(ctx, weekAgo)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	revenueTotal, err := a.Store.Purchases().RevenueSince(ctx, nil)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	revenueWeek, err := a.Store.Purchases().RevenueSince(ctx, &weekAgo)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"total_users":     totalUsers,
		"new_users_24h":   newToday,
		"active_users_7d": activeWeek,
		"revenue_total":   revenueTotal,
		"revenue_last_7d": revenueWeek,
	})
}

// AdminUsers lists users newest-first with simple pagination.
func (a *App) AdminUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	users, err := a.Store.Users().List(r.Context(), limit, offset)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load users")
		return
	}
	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, map[string]any{
			"id":         u.ID,
			"lang":       u.Lang,
			"trial_left": u.TrialLeft,
			"plan_id":    u.PlanID,
			"plan_until": u.PlanUntil,
			"banned":     u.Banned,
			"created_at": u.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"users": items})
}

// AdminUserStats returns one user's lifetime activity.
func (a *App) AdminUserStats(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}
	stats, err := a.Billing.GetUserStats(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load user stats")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"total_requests":  stats.TotalRequests,
		"total_tokens":    stats.TotalTokens,
		"purchases_count": stats.PurchasesCount,
	})
}

func (a *App) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}
	if err := a.Store.Users().SetBanned(r.Context(), userID, banned); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to update user")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"banned": banned})
}

// AdminBanUser blocks a user from the service.
func (a *App) AdminBanUser(w http.ResponseWriter, r *http.Request) {
	a.setBanned(w, r, true)
}

// AdminUnbanUser lifts a ban.
func (a *App) AdminUnbanUser(w http.ResponseWriter, r *http.Request) {
	a.setBanned(w, r, false)
}

type giveRequest struct {
	Amount int `json:"amount"`
}

// AdminGiveRequests adds trial requests to a user's balance.
func (a *App) AdminGiveRequests(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}
	var req giveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}
	ok, err := a.Billing.AddTrialRequests(r.Context(), userID, req.Amount)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to add requests")
		return
	}
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"added": req.Amount})
}

type planRequest struct {
	Name         string `json:"name"`
	PriceStars   int    `json:"price_stars"`
	PriceRub     string `json:"price_rub"`
	MonthlyQuota int    `json:"monthly_quota"`
	ContextLimit int    `json:"context_limit"`
}

// AdminCreatePlan adds a new subscription tier.
func (a *App) AdminCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	priceRub, err := decimal.NewFromString(req.PriceRub)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid price_rub")
		return
	}
	plan := &domain.Plan{
		Name:         req.Name,
		PriceStars:   req.PriceStars,
		PriceRub:     priceRub,
		MonthlyQuota: req.MonthlyQuota,
		ContextLimit: req.ContextLimit,
		IsActive:     true,
	}
	if err := a.Store.Plans().Create(r.Context(), plan); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to create plan")
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"id": plan.ID})
}

// AdminPlans lists every tier, active or not.
func (a *App) AdminPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := a.Store.Plans().List(r.Context())
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load plans")
		return
	}
	items := make([]map[string]any, 0, len(plans))
	for _, p := range plans {
		items = append(items, map[string]any{
			"id":            p.ID,
			"name":          p.Name,
			"price_stars":   p.PriceStars,
			"price_rub":     p.PriceRub,
			"monthly_quota": p.MonthlyQuota,
			"is_active":     p.IsActive,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"plans": items})
}

type promoRequest struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
	MaxUses         int    `json:"max_uses"`
	UntilDays       int    `json:"until_days"`
}

// AdminCreatePromo adds a discount code.
func (a *App) AdminCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.MaxUses <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	promo := &domain.Promo{
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		MaxUses:         req.MaxUses,
		IsActive:        true,
	}
	if req.UntilDays > 0 {
		until := time.Now().AddDate(0, 0, req.UntilDays)
		promo.Until = &until
	}
	if err := a.Store.Promos().Create(r.Context(), promo); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to create promo")
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"id": promo.ID})
}

// AdminPromos lists discount codes with their redemption counters.
func (a *App) AdminPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := a.Store.Promos().List(r.Context())
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load promos")
		return
	}
	items := make([]map[string]any, 0, len(promos))
	for _, p := range promos {
		items = append(items, map[string]any{
			"id":               p.ID,
			"code":             p.Code,
			"discount_percent": p.DiscountPercent,
			"max_uses":         p.MaxUses,
			"used":             p.Used,
			"is_active":        p.IsActive,
			"until":            p.Until,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"promos": items})
}
