package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"server/internal/billing"
	"server/internal/chat"
	"server/internal/domain"
	"server/internal/memstore"
	"server/internal/middleware"
	"server/internal/payment"
	"server/internal/providers/openai"
)

const webhookSecret = "whsec-test"

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type stubStream struct {
	fragments []string
	pos       int
}

func (s *stubStream) Recv() (string, error) {
	if s.pos < len(s.fragments) {
		s.pos++
		return s.fragments[s.pos-1], nil
	}
	return "", io.EOF
}

func (s *stubStream) Close() error { return nil }

type stubProvider struct {
	fragments []string
}

func (p *stubProvider) Stream(ctx context.Context, req openai.ChatRequest) (chat.Streamer, error) {
	return &stubStream{fragments: p.fragments}, nil
}

func (p *stubProvider) GenerateTitle(ctx context.Context, firstMessage, lang string) string {
	return "Title"
}

func (p *stubProvider) Model() string { return "test-model" }

type testEnv struct {
	app   *App
	store *memstore.Store
}

func newTestApp(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	now := func() time.Time { return fixedNow }
	billingSvc := billing.NewService(billing.Options{Store: store, Logger: zerolog.Nop(), Now: now})
	chatSvc := chat.NewService(chat.Options{
		Store:    store,
		Quota:    billingSvc,
		Provider: &stubProvider{fragments: []string{"an", "swer"}},
		Logger:   zerolog.Nop(),
		Now:      now,
	})
	gateway := payment.NewGatewayClient(payment.GatewayOptions{
		ShopID:        "shop-1",
		SecretKey:     "sk",
		WebhookSecret: webhookSecret,
		Logger:        zerolog.Nop(),
	})
	reconciler := payment.NewReconciler(payment.ReconcilerOptions{
		Store:   store,
		Billing: billingSvc,
		Gateway: gateway,
		Logger:  zerolog.Nop(),
		Now:     now,
	})
	app := &App{
		Store:    store,
		Billing:  billingSvc,
		Chat:     chatSvc,
		Payments: reconciler,
		Logger:   zerolog.Nop(),
	}
	return &testEnv{app: app, store: store}
}

// testRouter mounts the handlers without the auth middleware; tests inject
// the user id straight into the context.
func (e *testEnv) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/healthz", e.app.Health)
	r.Get("/v1/chat/quota", e.app.Quota)
	r.Post("/v1/chat/send", e.app.ChatSend)
	r.Get("/v1/chat/dialogs", e.app.DialogsList)
	r.Delete("/v1/chat/dialogs/{id}", e.app.DialogDelete)
	r.Get("/v1/payments/plans", e.app.PlansList)
	r.Post("/v1/payments/webhook", e.app.PaymentsWebhook)
	r.Get("/v1/admin/stats", e.app.AdminStats)
	r.Post("/v1/admin/users/{id}/give", e.app.AdminGiveRequests)
	r.Post("/v1/admin/users/{id}/ban", e.app.AdminBanUser)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, userID int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != 0 {
		req = req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func seedUser(t *testing.T, store *memstore.Store, id int64, trialLeft int) {
	t.Helper()
	if err := store.Users().Create(context.Background(), &domain.User{ID: id, Lang: "ru", TrialLeft: trialLeft}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedPlan(t *testing.T, store *memstore.Store, name string, quota int) *domain.Plan {
	t.Helper()
	plan := &domain.Plan{
		Name:         name,
		PriceStars:   2500,
		PriceRub:     decimal.RequireFromString("799.00"),
		MonthlyQuota: quota,
		IsActive:     true,
	}
	if err := store.Plans().Create(context.Background(), plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

func signBody(body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHealth(t *testing.T) {
	env := newTestApp(t)
	rec := doRequest(t, env.router(), http.MethodGet, "/v1/healthz", 0, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	env := newTestApp(t)
	seedUser(t, env.store, 1, 7)

	rec := doRequest(t, env.router(), http.MethodGet, "/v1/chat/quota", 1, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["trial_left"].(float64) != 7 {
		t.Errorf("trial_left = %v", body["trial_left"])
	}
	if body["is_trial"] != true {
		t.Errorf("is_trial = %v", body["is_trial"])
	}
}

func TestChatSend(t *testing.T) {
	env := newTestApp(t)
	seedUser(t, env.store, 1, 5)

	rec := doRequest(t, env.router(), http.MethodPost, "/v1/chat/send", 1, `{"text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["text"] != "answer" {
		t.Errorf("text = %v", body["text"])
	}
	if body["dialog_id"].(float64) == 0 {
		t.Error("dialog_id missing")
	}
}

func TestChatSendQuotaExceeded(t *testing.T) {
	env := newTestApp(t)
	seedUser(t, env.store, 1, 0)

	rec := doRequest(t, env.router(), http.MethodPost, "/v1/chat/send", 1, `{"text":"hello"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
}

func TestChatSendValidation(t *testing.T) {
	env := newTestApp(t)
	rec := doRequest(t, env.router(), http.MethodPost, "/v1/chat/send", 1, `{"text":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPlansList(t *testing.T) {
	env := newTestApp(t)
	seedPlan(t, env.store, "pro", 1500)
	inactive := &domain.Plan{Name: "legacy", MonthlyQuota: 10, IsActive: false}
	if err := env.store.Plans().Create(context.Background(), inactive); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, env.router(), http.MethodGet, "/v1/payments/plans", 0, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	plans := body["plans"].([]any)
	if len(plans) != 1 {
		t.Fatalf("plans = %d, want active only", len(plans))
	}
}

func TestPaymentsWebhook(t *testing.T) {
	env := newTestApp(t)
	seedUser(t, env.store, 100, 0)
	seedPlan(t, env.store, "pro", 1500)
	router := env.router()

	body := `{"event":"payment.succeeded","object":{"id":"pay-1","status":"succeeded","amount":{"value":"799.00","currency":"RUB"},"metadata":{"user_id":"100","plan_name":"pro"}}}`

	send := func(payload, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(payload))
		req.Header.Set("X-Payment-Signature", signature)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(body, signBody(body)); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d: %s", rec.Code, rec.Body.String())
	}
	// Replay answers 200 so the gateway stops retrying.
	if rec := send(body, signBody(body)); rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", rec.Code)
	}
	if rec := send(body, "bad-signature"); rec.Code != http.StatusBadRequest {
		t.Fatalf("forged signature status = %d, want 400", rec.Code)
	}
	unknown := strings.Replace(body, `"pro"`, `"platinum"`, 1)
	unknown = strings.Replace(unknown, "pay-1", "pay-2", 1)
	if rec := send(unknown, signBody(unknown)); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown plan status = %d, want 400", rec.Code)
	}

	user, err := env.store.Users().Get(context.Background(), 100)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.HasActivePlan(fixedNow) {
		t.Error("plan not activated by webhook")
	}
}

func TestAdminGiveRequests(t *testing.T) {
	env := newTestApp(t)
	seedUser(t, env.store, 5, 1)
	router := env.router()

	rec := doRequest(t, router, http.MethodPost, "/v1/admin/users/5/give", 9, `{"amount":50}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	user, _ := env.store.Users().Get(context.Background(), 5)
	if user.TrialLeft != 51 {
		t.Errorf("trial_left = %d, want 51", user.TrialLeft)
	}

	if rec := doRequest(t, router, http.MethodPost, "/v1/admin/users/404/give", 9, `{"amount":50}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodPost, "/v1/admin/users/5/give", 9, `{"amount":-3}`); rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount status = %d, want 400", rec.Code)
	}
}

func TestAdminBanUser(t *testing.T) {
	env := newTestApp(t)
	seedUser(t, env.store, 5, 1)

	rec := doRequest(t, env.router(), http.MethodPost, "/v1/admin/users/5/ban", 9, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	user, _ := env.store.Users().Get(context.Background(), 5)
	if !user.Banned {
		t.Error("user not banned")
	}
}

func TestAdminStats(t *testing.T) {
	env := newTestApp(t)
	seedUser(t, env.store, 1, 5)
	seedUser(t, env.store, 2, 5)

	rec := doRequest(t, env.router(), http.MethodGet, "/v1/admin/stats", 9, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["total_users"].(float64) != 2 {
		t.Errorf("total_users = %v", body["total_users"])
	}
}

func TestDialogDeleteOwnership(t *testing.T) {
	env := newTestApp(t)
	seedUser(t, env.store, 1, 5)
	router := env.router()

	rec := doRequest(t, router, http.MethodPost, "/v1/chat/send", 1, `{"text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d", rec.Code)
	}
	dialogID := int64(decodeBody(t, rec)["dialog_id"].(float64))

	path := fmt.Sprintf("/v1/chat/dialogs/%d", dialogID)
	if rec := doRequest(t, router, http.MethodDelete, path, 2, ""); rec.Code != http.StatusNotFound {
		t.Errorf("foreign delete status = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodDelete, path, 1, ""); rec.Code != http.StatusOK {
		t.Errorf("own delete status = %d, want 200", rec.Code)
	}
}
