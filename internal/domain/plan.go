package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnlimitedQuota is the monthly_quota sentinel for plans without a ceiling.
const UnlimitedQuota = -1

// Plan is a paid subscription tier. Plans are create-only once referenced by
// a purchase; deactivation happens through IsActive.
type Plan struct {
	ID            int64
	Name          string
	PriceStars    int
	PriceRub      decimal.Decimal
	MonthlyQuota  int
	ModelsAllowed []string
	ContextLimit  int
	IsActive      bool
	CreatedAt     time.Time
}

// IsUnlimited reports whether the plan has no monthly request ceiling.
func (p Plan) IsUnlimited() bool {
	return p.MonthlyQuota == UnlimitedQuota
}
