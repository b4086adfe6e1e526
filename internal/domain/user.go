package domain

import "time"

// DefaultTrialRequests is the free allotment granted to a user on first contact.
const DefaultTrialRequests = 30

// User represents a Telegram account known to the service. The primary key is
// the Telegram account id, so the bot may reference a user before any row
// exists for it.
type User struct {
	ID        int64
	Lang      string
	TrialLeft int
	PlanID    *int64
	PlanUntil *time.Time
	Banned    bool
	Email     string
	Settings  map[string]any
	CreatedAt time.Time
}

// HasActivePlan reports whether the user holds an unexpired subscription at t.
func (u User) HasActivePlan(t time.Time) bool {
	return u.PlanID != nil && u.PlanUntil != nil && u.PlanUntil.After(t)
}
