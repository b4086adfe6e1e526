package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"server/internal/domain"
	"server/internal/middleware"
)

// PlansList returns the tiers currently offered for sale.
func (a *App) PlansList(w http.ResponseWriter, r *http.Request) {
	plans, err := a.Billing.Plans(r.Context())
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
			"unlimited":     p.IsUnlimited(),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"plans": items})
}

type checkoutRequest struct {
	Plan  string `json:"plan"`
	Promo string `json:"promo"`
}

// PaymentCreate registers a YooKassa checkout for the caller and returns the
// confirmation URL.
func (a *App) PaymentCreate(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Plan == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "plan is required")
		return
	}
	ctx := r.Context()
	plan, err := a.Store.Plans().GetByName(ctx, req.Plan)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusBadRequest, "unknown_plan", "no such plan")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load plan")
		return
	}
	var promo *domain.Promo
	if req.Promo != "" {
		promo, err = a.Billing.ValidatePromo(ctx, req.Promo)
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to check promo")
			return
		}
		if promo == nil {
			a.error(w, http.StatusBadRequest, "invalid_promo", "promo code is not redeemable")
			return
		}
	}
	userID := middleware.UserIDFromContext(ctx)
	url, err := a.Payments.CreateCheckout(ctx, userID, plan, promo)
	if err != nil {
		a.Logger.Error().Err(err).Int64("user_id", userID).Msg("create checkout")
		a.error(w, http.StatusBadGateway, "gateway", "payment gateway unavailable")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"confirmation_url": url})
}

// PaymentsHistory returns the caller's completed purchases.
func (a *App) PaymentsHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	history, err := a.Store.Purchases().History(r.Context(), userID, 50)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}
	items := make([]map[string]any, 0, len(history))
	for _, p := range history {
		items = append(items, map[string]any{
			"plan":       p.PlanName,
			"via":        p.Via,
			"status":     p.Status,
			"amount":     p.Amount,
			"currency":   p.Currency,
			"created_at": p.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"purchases": items})
}

// PaymentsWebhook receives YooKassa notifications. Duplicates answer 200 so
// the gateway stops retrying; everything unprocessable answers 400 to force
// a retry only where one could help.
func (a *App) PaymentsWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	signature := r.Header.Get("X-Payment-Signature")
	err = a.Payments.ProcessGatewayWebhook(r.Context(), body, signature)
	switch {
	case err == nil, errors.Is(err, domain.ErrDuplicatePayment):
		a.json(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, domain.ErrInvalidSignature):
		a.error(w, http.StatusBadRequest, "invalid_signature", "signature check failed")
	case errors.Is(err, domain.ErrUnknownPlan):
		a.error(w, http.StatusBadRequest, "unknown_plan", "no such plan")
	default:
		a.Logger.Error().Err(err).Msg("webhook processing failed")
		a.error(w, http.StatusBadRequest, "unprocessable", "webhook not processed")
	}
}
