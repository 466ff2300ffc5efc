// Package notify сохраняет уведомления о новом сообщении для каждого участника,
// кроме отправителя, сообщает о них в личный топик и передаёт в пуш-адаптер.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/metrics"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/push"
	"github.com/dmchat/internal/storage"
)

const DefaultPushTimeout = 5 * time.Second

// Publisher: доставка события в личный топик пользователя.
type Publisher interface {
	PublishUser(userID, event string, payload any)
}

type Dispatcher struct {
	store       storage.NotificationStore
	adapter     push.Adapter
	publisher   Publisher
	pushTimeout time.Duration
	now         func() time.Time
	wg          sync.WaitGroup
}

func NewDispatcher(store storage.NotificationStore, adapter push.Adapter, publisher Publisher, pushTimeout time.Duration) *Dispatcher {
	if adapter == nil {
		adapter = push.InApp{}
	}
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	return &Dispatcher{
		store:       store,
		adapter:     adapter,
		publisher:   publisher,
		pushTimeout: pushTimeout,
		now:         time.Now,
	}
}

// SetPublisher подключает транспорт после создания хаба.
func (d *Dispatcher) SetPublisher(p Publisher) {
	d.publisher = p
}

// OnMessageSent создаёт по уведомлению на получателя. Каждая запись независима:
// сбой для одного получателя не мешает остальным. Пуш уходит в фоне с таймаутом.
func (d *Dispatcher) OnMessageSent(ctx context.Context, msg model.Message, recipients []model.Participant) {
	defer logger.DeferLogDuration("notify.OnMessageSent", time.Now())()
	if model.IsLobby(msg.RoomID) {
		return
	}
	preview := msg.Preview()
	for _, p := range recipients {
		if p.UserID == msg.SenderID {
			continue
		}
		n := model.Notification{
			ID:             uuid.NewString(),
			ReceiverID:     p.UserID,
			RoomID:         msg.RoomID,
			MessageID:      msg.ID,
			ContentPreview: preview,
			CreatedAt:      d.now().UTC(),
		}
		if err := d.store.CreateNotification(ctx, &n); err != nil {
			metrics.NotificationFailures.Inc()
			logger.Errorf("notify: save notification for %s on %s: %v", p.UserID, msg.ID, err)
			continue
		}
		metrics.NotificationsCreated.Inc()
		if d.publisher != nil {
			d.publisher.PublishUser(p.UserID, model.EventNotification, n.Event())
		}
		d.push(push.Notice{ReceiverID: p.UserID, RoomID: msg.RoomID, MessageID: msg.ID, Preview: preview})
	}
}

func (d *Dispatcher) push(n push.Notice) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.PushFailures.WithLabelValues(d.adapter.Name()).Inc()
				logger.Errorf("notify: push adapter %s panic: %v", d.adapter.Name(), r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.pushTimeout)
		defer cancel()
		if err := d.adapter.Send(ctx, n); err != nil {
			metrics.PushFailures.WithLabelValues(d.adapter.Name()).Inc()
			logger.Warnf("notify: push %s to %s: %v", n.MessageID, n.ReceiverID, err)
		}
	}()
}

// Wait дожидается фоновых пушей (graceful shutdown, тесты).
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
