package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter wires the JSON API. The webhook route stays outside the
// authenticated group: the gateway signs its own requests.
func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
		middleware.I18N("ru", lookup),
		middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/payments", func(r chi.Router) {
		r.Get("/plans", app.PlansList)
		r.Post("/webhook", app.PaymentsWebhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthTelegram(app.Config.TelegramBotToken))
			r.Post("/create", app.PaymentCreate)
			r.Get("/history", app.PaymentsHistory)
		})
	})

	r.Route("/v1/chat", func(r chi.Router) {
		r.Use(middleware.AuthTelegram(app.Config.TelegramBotToken))
		r.Get("/quota", app.Quota)
		r.Post("/send", app.ChatSend)
		r.Post("/stream", app.ChatStream)
		r.Get("/dialogs", app.DialogsList)
		r.Get("/dialogs/{id}/messages", app.DialogMessages)
		r.Delete("/dialogs/{id}", app.DialogDelete)
		r.Post("/dialogs/{id}/pin", app.DialogPin)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(
			middleware.AuthTelegram(app.Config.TelegramBotToken),
			middleware.RequireAdmin(app.Config.IsAdmin),
		)
		r.Get("/stats", app.AdminStats)
		r.Get("/users", app.AdminUsers)
		r.Get("/users/{id}/stats", app.AdminUserStats)
		r.Post("/users/{id}/ban", app.AdminBanUser)
		r.Post("/users/{id}/unban", app.AdminUnbanUser)
		r.Post("/users/{id}/give", app.AdminGiveRequests)
		r.Get("/plans", app.AdminPlans)
		r.Post("/plans", app.AdminCreatePlan)
		r.Get("/promos", app.AdminPromos)
		r.Post("/promos", app.AdminCreatePromo)
	})

	return r
}
