package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
)

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	_, err := s.db.Exec(ctx,
		`INSERT INTO messages (id, room_id, sender_id, sender_nickname, content, message_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.RoomID, m.SenderID, m.SenderNickname, m.Content, m.Type, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Create: %w", mapErr(err))
	}
	return nil
}

const messageColumns = `id, room_id, sender_id, sender_nickname, content, message_type, created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	if err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderNickname, &m.Content, &m.Type, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, roomID, messageID string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.Get", time.Now())()
	m, err := scanMessage(s.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room_id = $1 AND id = $2`, roomID, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.Get: %w", err)
	}
	return m, nil
}

// ListMessages: страница от новых к старым.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.List", time.Now())()
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE room_id = $1
		 ORDER BY created_at DESC, id COLLATE "C" DESC
		 LIMIT $2 OFFSET $3`, roomID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.List: %w", err)
	}
	defer rows.Close()
	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("messageRepo.List scan: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (s *Store) LastMessage(ctx context.Context, roomID string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.Last", time.Now())()
	m, err := scanMessage(s.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room_id = $1
		 ORDER BY created_at DESC, id COLLATE "C" DESC LIMIT 1`, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.Last: %w", err)
	}
	return m, nil
}
