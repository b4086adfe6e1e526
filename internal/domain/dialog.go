package domain

import "time"

// Dialog groups the messages of one conversation thread.
type Dialog struct {
	ID        int64
	UserID    int64
	Title     string
	IsPinned  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRole enumerates chat participants.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Message is one turn within a dialog.
type Message struct {
	ID        int64
	DialogID  int64
	Role      MessageRole
	Content   string
	Tokens    int
	ModelUsed string
	CreatedAt time.Time
}
