package store

import (
	"context"
	"fmt"
	"time"
)

// Chat is one persisted exchange: the user's message and the model's reply.
// Chats are append-only; the only delete is the per-owner bulk clear.
type Chat struct {
	ID        string
	OwnerID   string
	OwnerName string
	Message   string
	Reply     string
	Developer bool
	CreatedAt time.Time
}

// AppendChat records a completed exchange for its owner.
func (s *Store) AppendChat(ctx context.Context, c Chat) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (owner_id, owner_name, message, reply, is_developer)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.OwnerID, c.OwnerName, c.Message, c.Reply, c.Developer,
	)
	if err != nil {
		return fmt.Errorf("inserting chat for owner %s: %w", c.OwnerID, err)
	}
	return nil
}

// History returns up to limit of the owner's most recent chats, oldest first.
func (s *Store) History(ctx context.Context, ownerID string, limit int) ([]Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, owner_name, message, reply, is_developer, created_at
		 FROM chats
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chat history for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.OwnerName, &c.Message, &c.Reply, &c.Developer, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chat rows: %w", err)
	}

	// Query is newest-first to apply the limit; callers want oldest-first.
	for i, j := 0, len(chats)-1; i < j; i, j = i+1, j-1 {
		chats[i], chats[j] = chats[j], chats[i]
	}
	return chats, nil
}

// ClearHistory deletes every chat belonging to ownerID and returns the
// number of rows removed.
func (s *Store) ClearHistory(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("clearing chat history for owner %s: %w", ownerID, err)
	}
	return tag.RowsAffected(), nil
}
