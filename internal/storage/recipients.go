package storage

import (
	"context"
	"time"

	"lessonbot/internal/transport"
)

// Recipients is the registry of addressable chats, fed by /start.
type Recipients struct {
	store *Store
}

func (s *Store) Recipients() *Recipients { return &Recipients{store: s} }

// Upsert records a chat as addressable, refreshing last_seen on repeat.
func (r *Recipients) Upsert(ctx context.Context, chatID int64, username string) error {
	now := formatTime(time.Now())
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO recipients(chat_id, username, first_seen, last_seen)
		 VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET username = excluded.username, last_seen = excluded.last_seen`,
		chatID, nullStr(username), now, now,
	)
	return err
}

// ListAll returns every registered chat, ordered by chat id.
func (r *Recipients) ListAll(ctx context.Context) ([]transport.ChatTarget, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT chat_id FROM recipients ORDER BY chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transport.ChatTarget
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, transport.ChatTarget{ChatID: id})
	}
	return out, rows.Err()
}

// Count returns the number of registered chats.
func (r *Recipients) Count(ctx context.Context) (int, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	return n, err
}
