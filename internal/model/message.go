package model

import (
	"fmt"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
)

func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeImage
}

// MaxContentLength: предел длины текста сообщения в символах.
const MaxContentLength = 1000

type Message struct {
	ID             string      `json:"id"`
	RoomID         string      `json:"room_id"`
	SenderID       string      `json:"sender_id"`
	SenderNickname string      `json:"sender_nickname"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"created_at"`
}

// MessageView: сообщение в ответе клиенту с относительным временем на момент ответа.
type MessageView struct {
	Message
	TimeAgo string `json:"time_ago"`
}

func (m Message) View(now time.Time) MessageView {
	return MessageView{Message: m, TimeAgo: RelativeTime(m.CreatedAt, now)}
}

// RelativeTime: "just now", "5m ago", "3h ago", "2d ago"; старше недели
// выводится календарная дата.
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return t.Format("2006-01-02")
	}
}

const (
	// ImagePreview подставляется вместо содержимого IMAGE-сообщений.
	ImagePreview = "[image]"
	// PreviewLength: сколько символов текста остаётся в превью.
	PreviewLength = 30
	previewMarker = "..."
)

// Preview: короткая форма сообщения для уведомлений и списка диалогов.
func (m Message) Preview() string {
	if m.Type == MessageTypeImage {
		return ImagePreview
	}
	runes := []rune(m.Content)
	if len(runes) <= PreviewLength {
		return m.Content
	}
	return string(runes[:PreviewLength]) + previewMarker
}
