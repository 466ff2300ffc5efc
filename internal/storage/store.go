package storage

import (
	"context"
	"errors"

	"github.com/dmchat/internal/model"
)

var (
	// ErrNotFound: запись (комната, участник, уведомление) не найдена.
	ErrNotFound = errors.New("not found")
	// ErrConflict: нарушено ограничение уникальности (например, вторая DM-комната для той же пары).
	ErrConflict = errors.New("conflict")
)

// RoomStore: комнаты и участники.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (*model.Room, error)
	// CreateRoom возвращает ErrConflict, если DM-комната для PairKey уже есть.
	CreateRoom(ctx context.Context, room *model.Room) error
	FindDMRoomByPair(ctx context.Context, pairKey string) (*model.Room, error)
	ListDMRoomsOf(ctx context.Context, userID string) ([]model.Room, error)
	AddParticipant(ctx context.Context, p *model.Participant) error
	GetParticipant(ctx context.Context, roomID, userID string) (*model.Participant, error)
	ListParticipants(ctx context.Context, roomID string) ([]model.Participant, error)
	// AdvanceLastRead двигает курсор только вперёд; false: курсор уже не меньше messageID.
	// ErrNotFound: пользователь не участник комнаты.
	AdvanceLastRead(ctx context.Context, roomID, userID, messageID string) (bool, error)
	// SetLastRead ставит курсор без сравнения с текущим. ErrNotFound: не участник.
	SetLastRead(ctx context.Context, roomID, userID, messageID string) error
}

// MessageStore: журнал сообщений комнаты.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	// GetMessage: ErrNotFound, если в комнате нет такого сообщения.
	GetMessage(ctx context.Context, roomID, messageID string) (*model.Message, error)
	// ListMessages отдаёт страницу от новых к старым.
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error)
	// LastMessage возвращает nil, nil для пустой комнаты.
	LastMessage(ctx context.Context, roomID string) (*model.Message, error)
}

// NotificationStore: входящие уведомления пользователя.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// Store: долговременное хранилище чата.
// Реализации: repository.Store (Postgres), memory.Store (тесты и режим -memory).
type Store interface {
	RoomStore
	MessageStore
	NotificationStore
	// InTx выполняет fn в одной транзакции: либо видны все записи fn, либо ни одной.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// Subscription: подписка Web Push из браузера (PushManager.subscribe).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscriptionStore: подписки на пуш-уведомления (токены устройств).
// Реализации: redis.Client, memory.Subscriptions (для -dev без Redis).
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, userID string, sub Subscription) error
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
	Subscriptions(ctx context.Context, userID string) ([]Subscription, error)
	Close() error
}
