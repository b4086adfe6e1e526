// Package payment turns gateway webhooks and Telegram Stars receipts into
// completed purchases with the bought plan activated, exactly once per
// external payment id.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"server/internal/billing"
	"server/internal/domain"
)

// Gateway is the slice of the YooKassa client the reconciler needs.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*GatewayPayment, error)
	VerifySignature(body []byte, signature string) bool
}

// Reconciler processes inbound payment confirmations. All paths converge on
// one transactional step: duplicate check, purchase insert, plan activation.
type Reconciler struct {
	store   domain.Store
	billing *billing.Service
	gateway Gateway
	logger  zerolog.Logger
	now     func() time.Time
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Store   domain.Store
	Billing *billing.Service
	Gateway Gateway
	Logger  zerolog.Logger
	Now     func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:   opts.Store,
		billing: opts.Billing,
		gateway: opts.Gateway,
		logger:  opts.Logger,
		now:     now,
	}
}

// webhookEvent mirrors the YooKassa notification envelope. Only the fields
// the reconciler acts on are mapped.
type webhookEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID       string    `json:"id"`
		Status   string    `json:"status"`
		Amount   apiAmount `json:"amount"`
		Metadata struct {
			UserID   string `json:"user_id"`
			PlanName string `json:"plan_name"`
		} `json:"metadata"`
	} `json:"object"`
}

// CreateCheckout registers a gateway payment for the plan and returns the
// URL to redirect the user to. Nothing is persisted here: the webhook is the
// single source of completed purchases. A promo, when given, discounts the
// amount and consumes one redemption slot up front, so its use bound holds
// even for checkouts that are later abandoned.
func (r *Reconciler) CreateCheckout(ctx context.Context, userID int64, plan *domain.Plan, promo *domain.Promo) (string, error) {
	amount := plan.PriceRub
	if promo != nil {
		ok, err := r.billing.ApplyPromo(ctx, promo.ID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("promo %q exhausted", promo.Code)
		}
		amount = discounted(amount, promo)
	}
	payment, err := r.gateway.CreatePayment(ctx, CreatePaymentRequest{
		UserID:      userID,
		PlanName:    plan.Name,
		Amount:      amount,
		Currency:    "RUB",
		Description: fmt.Sprintf("Subscription %q", plan.Name),
	})
	if err != nil {
		return "", fmt.Errorf("create checkout: %w", err)
	}
	r.logger.Info().
		Int64("user_id", userID).
		Str("plan", plan.Name).
		Str("payment_id", payment.ID).
		Str("amount", amount.String()).
		Msg("checkout created")
	return payment.ConfirmationURL, nil
}

func discounted(amount decimal.Decimal, promo *domain.Promo) decimal.Decimal {
	if promo.DiscountPercent > 0 {
		factor := decimal.NewFromInt(int64(100 - promo.DiscountPercent)).Div(decimal.NewFromInt(100))
		amount = amount.Mul(factor)
	}
	if promo.DiscountFixed.IsPositive() {
		amount = amount.Sub(promo.DiscountFixed)
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}

// ProcessGatewayWebhook handles one raw webhook delivery. A replayed
// notification returns domain.ErrDuplicatePayment, which callers treat as
// success so the gateway stops retrying. Non-succeeded events are ignored.
func (r *Reconciler) ProcessGatewayWebhook(ctx context.Context, body []byte, signature string) error {
	if !r.gateway.VerifySignature(body, signature) {
		return domain.ErrInvalidSignature
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("decode webhook: %w", err)
	}
	if evt.Event != "payment.succeeded" || evt.Object.Status != "succeeded" {
		r.logger.Debug().
			Str("event", evt.Event).
			Str("status", evt.Object.Status).
			Msg("ignoring non-succeeded payment event")
		return nil
	}

	userID, err := strconv.ParseInt(evt.Object.Metadata.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("webhook metadata user_id %q: %w", evt.Object.Metadata.UserID, err)
	}
	amount, err := decimal.NewFromString(evt.Object.Amount.Value)
	if err != nil {
		return fmt.Errorf("webhook amount %q: %w", evt.Object.Amount.Value, err)
	}

	return r.complete(ctx, completion{
		idempotencyKey: evt.Object.ID,
		via:            domain.PaymentChannelYooKassa,
		userID:         userID,
		planName:       evt.Object.Metadata.PlanName,
		amount:         amount,
		currency:       evt.Object.Amount.Currency,
		payload: map[string]any{
			"payment_id": evt.Object.ID,
			"event":      evt.Event,
		},
	})
}

// StarsPayment is a successful Telegram Stars charge as reported by the bot
// update stream.
type StarsPayment struct {
	UserID           int64
	PlanName         string
	TelegramChargeID string
	StarsAmount      int
}

// ProcessStarsPayment records a Stars charge and activates the plan. The
// idempotency key is derived from the charge id, so a re-delivered update is
// reported as domain.ErrDuplicatePayment.
func (r *Reconciler) ProcessStarsPayment(ctx context.Context, p StarsPayment) error {
	key := fmt.Sprintf("stars_%d_%s_%s", p.UserID, p.PlanName, p.TelegramChargeID)
	return r.complete(ctx, completion{
		idempotencyKey: key,
		via:            domain.PaymentChannelStars,
		userID:         p.UserID,
		planName:       p.PlanName,
		amount:         decimal.NewFromInt(int64(p.StarsAmount)),
		currency:       "XTR",
		payload: map[string]any{
			"telegram_charge_id": p.TelegramChargeID,
		},
	})
}

type completion struct {
	idempotencyKey string
	via            domain.PaymentChannel
	userID         int64
	planName       string
	amount         decimal.Decimal
	currency       string
	payload        map[string]any
}

// complete is the single transactional path shared by both channels.
func (r *Reconciler) complete(ctx context.Context, c completion) error {
	err := r.store.WithTx(ctx, func(tx domain.Store) error {
		exists, err := tx.Purchases().ExistsCompleted(ctx, c.idempotencyKey)
		if err != nil {
			return fmt.Errorf("duplicate check: %w", err)
		}
		if exists {
			return domain.ErrDuplicatePayment
		}

		plan, err := tx.Plans().GetByName(ctx, c.planName)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: %q", domain.ErrUnknownPlan, c.planName)
			}
			return fmt.Errorf("load plan: %w", err)
		}

		completedAt := r.now()
		purchase := &domain.Purchase{
			UserID:         c.userID,
			PlanID:         plan.ID,
			Via:            c.via,
			Status:         domain.PurchaseStatusCompleted,
			Amount:         c.amount,
			Currency:       c.currency,
			IdempotencyKey: c.idempotencyKey,
			Payload:        c.payload,
			CompletedAt:    &completedAt,
		}
		if err := tx.Purchases().Insert(ctx, purchase); err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}

		ok, err := r.billing.ActivatePlanTx(ctx, tx, c.userID, plan.ID, 30)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %d", domain.ErrActivationFailed, c.userID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			r.logger.Info().
				Str("idempotency_key", c.idempotencyKey).
				Msg("payment already processed, skipping")
		}
		return err
	}

	r.logger.Info().
		Int64("user_id", c.userID).
		Str("plan", c.planName).
		Str("via", string(c.via)).
		Str("amount", c.amount.String()).
		Msg("payment completed")
	return nil
}
