// Package handlers hosts the JSON API served to the Telegram WebApp.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/billing"
	"server/internal/chat"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/payment"
)

// App bundles the services the handlers dispatch to.
type App struct {
	Store    domain.Store
	Billing  *billing.Service
	Chat     *chat.Service
	Payments *payment.Reconciler
	Config   *infra.Config
	Logger   zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": kind, "message": message},
	})
}
