package store

import (
	"fmt"
	"time"
)

// Outbox entry statuses.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// JournalSend records an optimistic send before its network call starts.
func (db *DB) JournalSend(localID, conversationID, senderID, body string, createdAt time.Time) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (local_id, conversation_id, sender_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		localID, conversationID, senderID, body, OutboxPending, createdAt.UnixMilli(), now)
	return err
}

// MarkOutboxSent records the server-confirmed id of a send.
func (db *DB) MarkOutboxSent(localID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, server_msg_id = ?, updated_at = ? WHERE local_id = ?`,
		OutboxSent, serverMsgID, now, localID)
	return err
}

// MarkOutboxFailed records the failure of a send.
func (db *DB) MarkOutboxFailed(localID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE local_id = ?`,
		OutboxFailed, errMsg, now, localID)
	return err
}

// ListOutbox returns journal entries with the given status, newest first.
// An empty status lists every entry.
func (db *DB) ListOutbox(status string, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, local_id, conversation_id, sender_id, body, status, error_message, server_msg_id, created_at
		FROM outbox`
	args := []any{}
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, status)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.LocalID, &e.ConversationID, &e.SenderID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
