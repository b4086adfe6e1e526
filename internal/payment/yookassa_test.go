package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestCreatePayment(t *testing.T) {
	var got createPaymentBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payments" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop-1" || pass != "sk-test" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		if r.Header.Get("Idempotence-Key") == "" {
			t.Error("missing Idempotence-Key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "pay-77",
			"status": "pending",
			"amount": {"value": "799.00", "currency": "RUB"},
			"confirmation": {"type": "redirect", "confirmation_url": "https://yookassa.test/confirm/77"}
		}`))
	}))
	defer srv.Close()

	client := NewGatewayClient(GatewayOptions{
		ShopID:     "shop-1",
		SecretKey:  "sk-test",
		BaseURL:    srv.URL,
		ReturnURL:  "https://t.me/testbot",
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})

	payment, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		UserID:      100,
		PlanName:    "pro",
		Amount:      decimal.RequireFromString("799"),
		Description: "Subscription pro",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if payment.ID != "pay-77" {
		t.Errorf("id = %q, want pay-77", payment.ID)
	}
	if payment.ConfirmationURL != "https://yookassa.test/confirm/77" {
		t.Errorf("confirmation url = %q", payment.ConfirmationURL)
	}
	if !payment.Amount.Equal(decimal.RequireFromString("799.00")) {
		t.Errorf("amount = %s", payment.Amount)
	}

	if got.Amount.Value != "799.00" || got.Amount.Currency != "RUB" {
		t.Errorf("sent amount = %+v, want 799.00 RUB", got.Amount)
	}
	if !got.Capture {
		t.Error("capture not requested")
	}
	if got.Confirmation.Type != "redirect" || got.Confirmation.ReturnURL != "https://t.me/testbot" {
		t.Errorf("confirmation = %+v", got.Confirmation)
	}
	if got.Metadata["user_id"] != "100" || got.Metadata["plan_name"] != "pro" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestCreatePaymentGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","code":"invalid_credentials"}`))
	}))
	defer srv.Close()

	client := NewGatewayClient(GatewayOptions{
		ShopID:     "shop-1",
		SecretKey:  "bad",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		UserID: 1, PlanName: "pro", Amount: decimal.RequireFromString("10"),
	})
	if err == nil {
		t.Fatal("expected error on 401 response")
	}
}

func TestCreatePaymentRequiresCredentials(t *testing.T) {
	client := NewGatewayClient(GatewayOptions{Logger: zerolog.Nop()})
	_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		UserID: 1, PlanName: "pro", Amount: decimal.RequireFromString("10"),
	})
	if err != ErrMissingCredentials {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestVerifySignature(t *testing.T) {
	client := NewGatewayClient(GatewayOptions{WebhookSecret: testWebhookSecret, Logger: zerolog.Nop()})
	body := []byte(`{"event":"payment.succeeded"}`)

	if !client.VerifySignature(body, sign(body)) {
		t.Error("valid signature rejected")
	}
	if client.VerifySignature(body, sign(body)+"00") {
		t.Error("tampered signature accepted")
	}
	if client.VerifySignature([]byte(`{"event":"other"}`), sign(body)) {
		t.Error("signature accepted for different body")
	}

	unconfigured := NewGatewayClient(GatewayOptions{Logger: zerolog.Nop()})
	if unconfigured.VerifySignature(body, sign(body)) {
		t.Error("signature accepted with no webhook secret configured")
	}
}
