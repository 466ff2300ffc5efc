// Package push: внешняя доставка уведомлений о новых сообщениях.
// Вариант адаптера выбирается один раз при старте по push_mode.
package push

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmchat/internal/storage"
)

// Notice: то, что уходит получателю: кто, где и превью текста.
type Notice struct {
	ReceiverID string `json:"receiver_id"`
	RoomID     string `json:"room_id"`
	MessageID  string `json:"message_id"`
	Preview    string `json:"preview"`
}

// Adapter доставляет уведомление одному получателю. Ошибки вызывающий только
// логирует: отправителю они не возвращаются.
type Adapter interface {
	Send(ctx context.Context, n Notice) error
	Name() string
}

const (
	ModeInApp   = "inapp"
	ModeNoop    = "noop"
	ModeWebPush = "webpush"
	ModeService = "service"
	ModeKafka   = "kafka"
)

// InApp: доставкой считается сохранённое уведомление; внешних вызовов нет.
type InApp struct{}

func (InApp) Send(context.Context, Notice) error { return nil }
func (InApp) Name() string                       { return ModeInApp }

// Noop отбрасывает уведомления.
type Noop struct{}

func (Noop) Send(context.Context, Notice) error { return nil }
func (Noop) Name() string                       { return ModeNoop }

// ParseMode нормализует push_mode; пустое значение: inapp.
func ParseMode(mode string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "":
		return ModeInApp, nil
	case ModeInApp, ModeNoop, ModeWebPush, ModeService, ModeKafka:
		return m, nil
	default:
		return "", fmt.Errorf("push: unknown mode %q", mode)
	}
}

// title и body для браузерного уведомления.
func (n Notice) text() (string, string) {
	return "New message", n.Preview
}

// Options: всё, что нужно для сборки любого из вариантов.
type Options struct {
	Mode          string
	Subscriptions storage.SubscriptionStore
	VAPID         *VAPIDKeys
	Subscriber    string
	ServiceURL    string
	KafkaBrokers  []string
	KafkaTopic    string
}

// New собирает адаптер по Options.Mode.
func New(opts Options) (Adapter, error) {
	mode, err := ParseMode(opts.Mode)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeNoop:
		return Noop{}, nil
	case ModeWebPush:
		if opts.Subscriptions == nil {
			return nil, fmt.Errorf("push: mode %q needs a subscription store", mode)
		}
		if opts.VAPID == nil || opts.VAPID.PublicKey == "" || opts.VAPID.PrivateKey == "" {
			return nil, fmt.Errorf("push: mode %q needs VAPID keys", mode)
		}
		return NewWebPush(opts.Subscriptions, *opts.VAPID, opts.Subscriber), nil
	case ModeService:
		return NewClient(opts.ServiceURL)
	case ModeKafka:
		return NewKafka(opts.KafkaBrokers, opts.KafkaTopic)
	default:
		return InApp{}, nil
	}
}
