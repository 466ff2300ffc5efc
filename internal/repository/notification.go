package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
)

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notification.Create", time.Now())()
	_, err := s.db.Exec(ctx,
		`INSERT INTO notifications (id, receiver_id, room_id, message_id, content_preview, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.ReceiverID, n.RoomID, n.MessageID, n.ContentPreview, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notificationRepo.Create: %w", mapErr(err))
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notification.List", time.Now())()
	rows, err := s.db.Query(ctx,
		`SELECT id, receiver_id, room_id, message_id, content_preview, is_read, created_at
		 FROM notifications WHERE receiver_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notificationRepo.List: %w", err)
	}
	defer rows.Close()
	out := make([]model.Notification, 0, 16)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.ReceiverID, &n.RoomID, &n.MessageID, &n.ContentPreview, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notificationRepo.List scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	defer logger.DeferLogDuration("notification.MarkRead", time.Now())()
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND receiver_id = $2`,
		notificationID, userID)
	if err != nil {
		return fmt.Errorf("notificationRepo.MarkRead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
