package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/storage"
)

// Payload: JSON, который получает service worker браузера.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// WebPush отправляет уведомление на все подписки получателя через VAPID.
// Подписки, на которые сервис ответил 404/410, удаляются.
type WebPush struct {
	subs storage.SubscriptionStore
	opts webpush.Options
}

func NewWebPush(subs storage.SubscriptionStore, keys VAPIDKeys, subscriber string) *WebPush {
	if subscriber == "" {
		subscriber = "dmchat-push"
	}
	return &WebPush{
		subs: subs,
		opts: webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		},
	}
}

// WithHTTPClient подменяет HTTP-клиент (тесты, прокси).
func (w *WebPush) WithHTTPClient(c webpush.HTTPClient) *WebPush {
	w.opts.HTTPClient = c
	return w
}

func (w *WebPush) Name() string { return ModeWebPush }

func (w *WebPush) Send(ctx context.Context, n Notice) error {
	title, body := n.text()
	return w.Deliver(ctx, n.ReceiverID, Payload{
		Title: title,
		Body:  body,
		Data:  map[string]string{"room_id": n.RoomID, "message_id": n.MessageID},
	})
}

// Deliver рассылает payload на все подписки userID. Ошибка: если не удалось
// ни одной доставки при непустом списке подписок.
func (w *WebPush) Deliver(ctx context.Context, userID string, p Payload) error {
	subs, err := w.subs.Subscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("webpush subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var errs []error
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, raw, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, &w.opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("send %s: %w", shortEndpoint(sub.Endpoint), err))
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			logger.Infof("webpush: subscription %s expired, removing", shortEndpoint(sub.Endpoint))
			if err := w.subs.RemoveSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Warnf("webpush: remove subscription: %v", err)
			}
		case resp.StatusCode >= 400:
			errs = append(errs, fmt.Errorf("send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode))
		}
	}
	if len(errs) == len(subs) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		logger.Warnf("webpush: %v", err)
	}
	return nil
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}
