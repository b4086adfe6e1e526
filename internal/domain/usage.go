package domain

import "time"

// Usage accumulates request and token counters for one user and one calendar
// day (UTC). Rows are unique per (user, day) and counters only grow.
type Usage struct {
	ID               int64
	UserID           int64
	Day              time.Time
	Requests         int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
