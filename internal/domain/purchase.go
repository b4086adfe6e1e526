package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentChannel identifies how a purchase was paid for.
type PaymentChannel string

const (
	PaymentChannelStars    PaymentChannel = "stars"
	PaymentChannelYooKassa PaymentChannel = "yookassa"
)

// PurchaseStatus enumerates purchase lifecycle states.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

// Purchase is an immutable record of a completed monetary transaction.
// IdempotencyKey is a dedicated column rather than part of Payload so the
// duplicate check can use a unique index.
type Purchase struct {
	ID             int64
	UserID         int64
	PlanID         int64
	Via            PaymentChannel
	Status         PurchaseStatus
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Payload        map[string]any
	CreatedAt      time.Time
	CompletedAt    *time.Time
}
