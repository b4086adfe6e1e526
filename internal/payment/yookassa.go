package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrMissingCredentials indicates the gateway client was configured without
// shop credentials.
var ErrMissingCredentials = errors.New("yookassa: shop credentials are required")

// GatewayOptions configures the YooKassa API client.
type GatewayOptions struct {
	ShopID         string
	SecretKey      string
	WebhookSecret  string
	BaseURL        string
	ReturnURL      string
	HTTPClient     *http.Client
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

// GatewayClient performs HTTP calls against the YooKassa payments API and
// verifies inbound webhook signatures.
type GatewayClient struct {
	shopID        string
	secretKey     string
	webhookSecret string
	baseURL       string
	returnURL     string
	httpClient    *http.Client
	logger        zerolog.Logger
}

// CreatePaymentRequest carries the inputs for a hosted-checkout payment.
type CreatePaymentRequest struct {
	UserID      int64
	PlanName    string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// GatewayPayment is the normalized result of a payment creation call.
type GatewayPayment struct {
	ID              string
	Status          string
	ConfirmationURL string
	Amount          decimal.Decimal
	Currency        string
}

type createPaymentBody struct {
	Amount       apiAmount         `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation apiConfirmation   `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}

type apiAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type apiConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type paymentResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Amount       apiAmount       `json:"amount"`
	Confirmation apiConfirmation `json:"confirmation"`
	Description  string          `json:"description"`
}

// NewGatewayClient constructs a client with sane defaults and injected
// dependencies.
func NewGatewayClient(opts GatewayOptions) *GatewayClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.yookassa.ru/v3"
	}
	return &GatewayClient{
		shopID:        strings.TrimSpace(opts.ShopID),
		secretKey:     strings.TrimSpace(opts.SecretKey),
		webhookSecret: opts.WebhookSecret,
		baseURL:       baseURL,
		returnURL:     opts.ReturnURL,
		httpClient:    httpClient,
		logger:        opts.Logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *GatewayClient) HasCredentials() bool {
	return c.shopID != "" && c.secretKey != ""
}

// CreatePayment registers a redirect-confirmation payment and returns the
// checkout URL to send the user to. The user id and plan name travel in
// metadata so the webhook can be reconciled without local pending state.
func (c *GatewayClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*GatewayPayment, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingCredentials
	}
	currency := req.Currency
	if currency == "" {
		currency = "RUB"
	}
	body := createPaymentBody{
		Amount:  apiAmount{Value: req.Amount.StringFixed(2), Currency: currency},
		Capture: true,
		Confirmation: apiConfirmation{
			Type:      "redirect",
			ReturnURL: c.returnURL,
		},
		Description: req.Description,
		Metadata: map[string]string{
			"user_id":   strconv.FormatInt(req.UserID, 10),
			"plan_name": req.PlanName,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("yookassa: encode payment: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("yookassa: build request: %w", err)
	}
	httpReq.SetBasicAuth(c.shopID, c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	// Gateway-side dedupe for retried creation calls.
	httpReq.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("yookassa: create payment: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("yookassa: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(data)).
			Msg("yookassa payment creation rejected")
		return nil, fmt.Errorf("yookassa: unexpected status %d", resp.StatusCode)
	}

	var parsed paymentResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("yookassa: decode response: %w", err)
	}
	amount, err := decimal.NewFromString(parsed.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("yookassa: parse amount %q: %w", parsed.Amount.Value, err)
	}
	return &GatewayPayment{
		ID:              parsed.ID,
		Status:          parsed.Status,
		ConfirmationURL: parsed.Confirmation.ConfirmationURL,
		Amount:          amount,
		Currency:        parsed.Amount.Currency,
	}, nil
}

// VerifySignature checks the webhook HMAC over the raw request body. The
// comparison is constant-time. With no webhook secret configured every
// signature is rejected.
func (c *GatewayClient) VerifySignature(body []byte, signature string) bool {
	if c.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimSpace(signature)))
}
