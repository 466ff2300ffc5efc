package model

import "time"

type Notification struct {
	ID             string    `json:"notification_id"`
	ReceiverID     string    `json:"receiver_id"`
	RoomID         string    `json:"room_id"`
	MessageID      string    `json:"message_id"`
	ContentPreview string    `json:"content_preview"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
