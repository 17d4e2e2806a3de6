package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mfcarvalho/chatsync/internal/chat"
)

// GetMessages returns the messages of one conversation scope in
// (created_at, id) order. An empty peerID selects the public room; otherwise
// both directions of the user/peer pairing are returned.
func (db *DB) GetMessages(ctx context.Context, userID, peerID string) ([]chat.Message, error) {
	var (
		query string
		args  []any
	)
	if peerID == "" {
		query = `
			SELECT id, sender_id, recipient_id, content, message_type, related_id, status, created_at
			FROM messages
			WHERE recipient_id = ''
			ORDER BY created_at ASC, id ASC`
	} else {
		query = `
			SELECT id, sender_id, recipient_id, content, message_type, related_id, status, created_at
			FROM messages
			WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
			ORDER BY created_at ASC, id ASC`
		args = []any{userID, peerID, peerID, userID}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m  chat.Message
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Type, &m.RelatedID, &m.Status, &ts); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SendMessage persists a message and returns the confirmed record. The
// client-generated id is reused when present, which makes retries of the
// same message idempotent (upsert on id).
func (db *DB) SendMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.Status = chat.StatusSent
	m.IsOptimistic = false

	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, content, message_type, related_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		m.ID, m.SenderID, m.RecipientID, m.Content, string(m.Type), m.RelatedID, string(m.Status), m.CreatedAt.UnixMilli(), now)
	if err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	return m, nil
}

// MarkMessagesAsRead upgrades all confirmed messages from the given sender
// to read. Failed and still-sending messages are left alone.
func (db *DB) MarkMessagesAsRead(ctx context.Context, senderID string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE messages SET status = 'read', updated_at = ?
		WHERE sender_id = ? AND status IN ('sent', 'delivered')`,
		now, senderID)
	return err
}

// GetFriendsList returns the user's friends sorted by display name.
func (db *DB) GetFriendsList(ctx context.Context, userID string) ([]chat.User, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT friend_id, display_name
		FROM friends
		WHERE user_id = ?
		ORDER BY COALESCE(NULLIF(display_name, ''), friend_id) ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var friends []chat.User
	for rows.Next() {
		var u chat.User
		if err := rows.Scan(&u.ID, &u.DisplayName); err != nil {
			return nil, err
		}
		friends = append(friends, u)
	}
	return friends, rows.Err()
}

// UpsertFriend adds or renames a friend edge.
func (db *DB) UpsertFriend(ctx context.Context, userID string, friend chat.User) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO friends (user_id, friend_id, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, friend_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE friends.display_name END`,
		userID, friend.ID, friend.DisplayName, now)
	return err
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
