package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Promo is a discount code with a bounded number of redemptions.
type Promo struct {
	ID              int64
	Code            string
	DiscountPercent int
	DiscountFixed   decimal.Decimal
	Until           *time.Time
	MaxUses         int
	Used            int
	IsActive        bool
	CreatedAt       time.Time
}

// Applicable reports whether the promo can still be redeemed at t. An expired
// or exhausted promo is unusable regardless of IsActive.
func (p Promo) Applicable(t time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.Until != nil && p.Until.Before(t) {
		return false
	}
	return p.Used < p.MaxUses
}
