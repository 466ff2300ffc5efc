package model

import "time"

// Имена исходящих realtime-событий.
const (
	EventMessage      = "message"
	EventNotification = "notification"
	EventReadReceipt  = "readReceipt"
)

// NotificationEvent уходит в личный топик получателя.
type NotificationEvent struct {
	NotificationID string    `json:"notification_id"`
	RoomID         string    `json:"room_id"`
	MessageID      string    `json:"message_id"`
	ContentPreview string    `json:"content_preview"`
	CreatedAt      time.Time `json:"created_at"`
}

func (n Notification) Event() NotificationEvent {
	return NotificationEvent{
		NotificationID: n.ID,
		RoomID:         n.RoomID,
		MessageID:      n.MessageID,
		ContentPreview: n.ContentPreview,
		CreatedAt:      n.CreatedAt,
	}
}

// ReadReceipt: квитанция прочтения для топика комнаты.
type ReadReceipt struct {
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
}
