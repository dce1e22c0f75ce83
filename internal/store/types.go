package store

import "time"

// OutboxEntry is one journaled optimistic send.
type OutboxEntry struct {
	ID             int64
	LocalID        string
	ConversationID string
	SenderID       string
	Body           string
	Status         string // pending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      time.Time
}
