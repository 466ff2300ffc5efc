// Package chat: сценарии отправки и прочтения сообщений: валидация, поиск или
// создание DM-комнаты, запись сообщения вместе с курсором отправителя и
// рассылка после коммита.
package chat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmchat/internal/idgen"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/metrics"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 100

	defaultNotificationLimit = 50
	maxNotificationLimit     = 200

	fanoutTimeout = 10 * time.Second
)

// Presence: отметка «был активен в комнате».
type Presence interface {
	MarkActive(roomID, userID string)
	IsOnline(roomID, userID string) bool
}

// Notifier получает уже сохранённое сообщение и его получателей (без отправителя).
type Notifier interface {
	OnMessageSent(ctx context.Context, msg model.Message, recipients []model.Participant)
}

// Publisher: доставка событий подписчикам комнаты и личному топику пользователя.
// Не блокирует и не возвращает ошибок: доставка best-effort.
type Publisher interface {
	PublishRoom(roomID, event string, payload any)
	PublishUser(userID, event string, payload any)
}

type Service struct {
	store     storage.Store
	directory *Directory
	receipts  ReadTracker
	presence  Presence
	notifier  Notifier
	publisher Publisher
	ids       *idgen.Generator
	now       func() time.Time
}

func NewService(store storage.Store, ids *idgen.Generator, presence Presence, notifier Notifier, publisher Publisher) *Service {
	return &Service{
		store:     store,
		directory: NewDirectory(store, ids),
		presence:  presence,
		notifier:  notifier,
		publisher: publisher,
		ids:       ids,
		now:       time.Now,
	}
}

// Directory отдаёт справочник комнат (нужен транспорту для проверки подписок).
func (s *Service) Directory() *Directory {
	return s.directory
}

// SetPublisher подключает транспорт после создания сервиса: хаб и сервис
// ссылаются друг на друга.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

type SendRequest struct {
	RoomID           string            `json:"room_id"`
	SenderID         string            `json:"sender_id"`
	SenderNickname   string            `json:"sender_nickname"`
	Content          string            `json:"content"`
	MessageType      model.MessageType `json:"message_type"`
	ReceiverID       string            `json:"receiver_id"`
	ReceiverNickname string            `json:"receiver_nickname"`
}

func (r *SendRequest) normalize() error {
	r.RoomID = strings.TrimSpace(r.RoomID)
	r.SenderID = strings.TrimSpace(r.SenderID)
	r.ReceiverID = strings.TrimSpace(r.ReceiverID)
	r.ReceiverNickname = strings.TrimSpace(r.ReceiverNickname)
	if r.SenderID == "" {
		return invalid("sender_id", "required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return invalid("content", "required")
	}
	if utf8.RuneCountInString(r.Content) > model.MaxContentLength {
		return invalid("content", fmt.Sprintf("longer than %d characters", model.MaxContentLength))
	}
	if r.MessageType == "" {
		r.MessageType = model.MessageTypeText
	}
	if !r.MessageType.Valid() {
		return invalid("message_type", "must be TEXT or IMAGE")
	}
	if r.RoomID == "" {
		if r.ReceiverID == "" {
			return invalid("receiver_id", "required when room_id is empty")
		}
		if r.ReceiverNickname == "" {
			return invalid("receiver_nickname", "required when room_id is empty")
		}
		if r.ReceiverID == r.SenderID {
			return invalid("receiver_id", "cannot open a DM with yourself")
		}
	}
	r.SenderNickname = nickname(r.SenderNickname, r.SenderID)
	return nil
}

// Send сохраняет сообщение и двигает курсор отправителя в одной транзакции,
// затем рассылает его подписчикам комнаты и уведомляет остальных участников.
// Ошибки рассылки и пушей не влияют на результат.
func (s *Service) Send(ctx context.Context, req SendRequest) (*model.MessageView, error) {
	defer logger.DeferLogDuration("chat.Send", time.Now())()
	if err := req.normalize(); err != nil {
		metrics.SendRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	var (
		room *model.Room
		err  error
	)
	if req.RoomID == "" {
		room, err = s.directory.ResolveOrCreateDM(ctx, req.SenderID, req.SenderNickname, req.ReceiverID, req.ReceiverNickname)
	} else {
		room, err = s.CheckAccess(ctx, req.RoomID, req.SenderID)
	}
	if err != nil {
		metrics.SendRejected.WithLabelValues(reason(err)).Inc()
		return nil, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}
	msg := model.Message{
		ID:             id,
		RoomID:         room.ID,
		SenderID:       req.SenderID,
		SenderNickname: req.SenderNickname,
		Content:        req.Content,
		Type:           req.MessageType,
		CreatedAt:      s.now().UTC(),
	}
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateMessage(ctx, &msg); err != nil {
			return err
		}
		if room.IsLobby() {
			return nil
		}
		return s.receipts.Set(ctx, tx, room.ID, msg.SenderID, msg.ID)
	})
	if err != nil {
		metrics.SendRejected.WithLabelValues(reason(err)).Inc()
		return nil, fmt.Errorf("chat.Send: %w", err)
	}
	metrics.MessagesSent.WithLabelValues(string(room.Type)).Inc()

	view := msg.View(s.now())
	s.fanout(ctx, room, view)
	return &view, nil
}

func (s *Service) fanout(ctx context.Context, room *model.Room, view model.MessageView) {
	if s.publisher != nil {
		s.publisher.PublishRoom(room.ID, model.EventMessage, view)
	}
	if !room.IsLobby() && s.notifier != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanoutTimeout)
		defer cancel()
		ps, err := s.directory.ListParticipants(fctx, room.ID)
		if err != nil {
			logger.Warnf("chat.fanout: participants of %s: %v", room.ID, err)
		} else {
			recipients := make([]model.Participant, 0, len(ps))
			for _, p := range ps {
				if p.UserID != view.SenderID {
					recipients = append(recipients, p)
				}
			}
			s.notifier.OnMessageSent(fctx, view.Message, recipients)
		}
	}
	if s.presence != nil {
		s.presence.MarkActive(room.ID, view.SenderID)
	}
}

type ReadRequest struct {
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
}

// MarkRead двигает курсор прочтения. Для лобби: no-op. Сообщение должно быть
// в этой комнате. Квитанция рассылается в комнату, только если курсор сдвинулся.
func (s *Service) MarkRead(ctx context.Context, req ReadRequest) (bool, error) {
	defer logger.DeferLogDuration("chat.MarkRead", time.Now())()
	req.RoomID = strings.TrimSpace(req.RoomID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.RoomID == "" {
		return false, invalid("room_id", "required")
	}
	if req.UserID == "" {
		return false, invalid("user_id", "required")
	}
	if model.IsLobby(req.RoomID) {
		return false, nil
	}
	messageID, err := normalizeMessageID(req.MessageID)
	if err != nil {
		return false, err
	}
	if _, err := s.directory.FindParticipant(ctx, req.RoomID, req.UserID); err != nil {
		return false, err
	}
	if _, err := s.store.GetMessage(ctx, req.RoomID, messageID); err != nil {
		return false, notFound(err, ErrMessageNotFound)
	}
	moved, err := s.receipts.Advance(ctx, s.store, req.RoomID, req.UserID, messageID)
	if err != nil {
		return false, err
	}
	if moved {
		metrics.ReadReceipts.Inc()
		if s.publisher != nil {
			s.publisher.PublishRoom(req.RoomID, model.EventReadReceipt, model.ReadReceipt{
				RoomID:    req.RoomID,
				UserID:    req.UserID,
				MessageID: messageID,
			})
		}
	}
	return moved, nil
}

// GetOrCreateDM: синхронный вариант открытия диалога.
func (s *Service) GetOrCreateDM(ctx context.Context, userID, nickname, opponentID, opponentNickname string) (*model.Room, error) {
	return s.directory.ResolveOrCreateDM(ctx, userID, nickname, opponentID, opponentNickname)
}

// CheckAccess: лобби открыто всем, остальные комнаты только участникам.
func (s *Service) CheckAccess(ctx context.Context, roomID, userID string) (*model.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, invalid("room_id", "required")
	}
	room, err := s.directory.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsLobby() {
		if _, err := s.directory.FindParticipant(ctx, room.ID, userID); err != nil {
			return nil, err
		}
	}
	return room, nil
}

// ListMessages отдаёт страницу сообщений от новых к старым; page с нуля.
// Страница за пределами диапазона int пуста.
func (s *Service) ListMessages(ctx context.Context, roomID, userID string, page, size int) ([]model.MessageView, error) {
	defer logger.DeferLogDuration("chat.ListMessages", time.Now())()
	room, err := s.CheckAccess(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page > (math.MaxInt-size)/size {
		return []model.MessageView{}, nil
	}
	msgs, err := s.store.ListMessages(ctx, room.ID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("chat.ListMessages: %w", err)
	}
	now := s.now()
	views := make([]model.MessageView, len(msgs))
	for i := range msgs {
		views[i] = msgs[i].View(now)
	}
	return views, nil
}

// ListDMRooms: список диалогов пользователя с собеседником, его статусом
// и превью последнего сообщения. Сверху диалоги с самой свежей активностью.
func (s *Service) ListDMRooms(ctx context.Context, userID string) ([]model.DMRoomSummary, error) {
	defer logger.DeferLogDuration("chat.ListDMRooms", time.Now())()
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user_id", "required")
	}
	rooms, err := s.directory.ListDMRoomsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.ListDMRooms: %w", err)
	}
	now := s.now()
	out := make([]model.DMRoomSummary, 0, len(rooms))
	activity := make(map[string]string, len(rooms))
	for _, room := range rooms {
		ps, err := s.directory.ListParticipants(ctx, room.ID)
		if err != nil {
			return nil, fmt.Errorf("chat.ListDMRooms: %w", err)
		}
		sum := model.DMRoomSummary{RoomID: room.ID}
		for _, p := range ps {
			if p.UserID == userID {
				if p.LastReadMessageID != nil {
					sum.LastReadMessage = *p.LastReadMessageID
				}
				continue
			}
			sum.OpponentID = p.UserID
			sum.OpponentNickname = p.Nickname
		}
		if sum.OpponentID != "" && s.presence != nil {
			sum.OpponentOnline = s.presence.IsOnline(room.ID, sum.OpponentID)
		}
		last, err := s.store.LastMessage(ctx, room.ID)
		if err != nil {
			return nil, fmt.Errorf("chat.ListDMRooms: %w", err)
		}
		activity[room.ID] = room.ID
		if last != nil {
			sum.LastMessage = last.Preview()
			sum.LastMessageAt = model.RelativeTime(last.CreatedAt, now)
			if last.ID > room.ID {
				activity[room.ID] = last.ID
			}
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return activity[out[i].RoomID] > activity[out[j].RoomID]
	})
	return out, nil
}

// Notifications: последние уведомления пользователя, новые сверху.
func (s *Service) Notifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user_id", "required")
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	return s.store.ListNotifications(ctx, userID, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	if strings.TrimSpace(notificationID) == "" {
		return invalid("notification_id", "required")
	}
	err := s.store.MarkNotificationRead(ctx, userID, notificationID)
	if err != nil {
		return notFound(err, fmt.Errorf("notification %w", ErrNotFound))
	}
	return nil
}

func reason(err error) string {
	switch {
	case isValidation(err):
		return "validation"
	case isNotFound(err):
		return "not_found"
	default:
		return "internal"
	}
}
