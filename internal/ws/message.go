package ws

import (
	"github.com/dmchat/internal/model"
)

type EventType string

const (
	// входящие
	EventSend        EventType = "send"
	EventRead        EventType = "read"
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"

	// исходящие
	EventMessage      EventType = model.EventMessage
	EventNotification EventType = model.EventNotification
	EventReadReceipt  EventType = model.EventReadReceipt
	EventSubscribed   EventType = "subscribed"
	EventError        EventType = "error"
)

// Коды ошибок во фрейме error.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeInternal   = "internal"
)

// IncomingMessage: фрейм от клиента.
type IncomingMessage struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id,omitempty"`

	// send
	SenderID         string            `json:"sender_id,omitempty"`
	SenderNickname   string            `json:"sender_nickname,omitempty"`
	Content          string            `json:"content,omitempty"`
	MessageType      model.MessageType `json:"message_type,omitempty"`
	ReceiverID       string            `json:"receiver_id,omitempty"`
	ReceiverNickname string            `json:"receiver_nickname,omitempty"`

	// read
	UserID    string `json:"user_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// OutgoingMessage: фрейм клиенту.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ErrorPayload уходит только в соединение, приславшее фрейм.
type ErrorPayload struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Request EventType `json:"request,omitempty"`
}

// SubscribedPayload подтверждает subscribe/unsubscribe.
type SubscribedPayload struct {
	RoomID     string `json:"room_id"`
	Subscribed bool   `json:"subscribed"`
}

func roomTopic(roomID string) string {
	return "room:" + roomID
}
