package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventNotificationCreated: тип записи в топике уведомлений.
const EventNotificationCreated = "notification.created"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka публикует уведомление во внешний конвейер доставки.
// Ключ записи: получатель: уведомления одного пользователя идут в одну партицию.
type Kafka struct {
	w   messageWriter
	now func() time.Time
}

// KafkaEvent: значение записи.
type KafkaEvent struct {
	Type       string    `json:"type"`
	ReceiverID string    `json:"receiver_id"`
	RoomID     string    `json:"room_id"`
	MessageID  string    `json:"message_id"`
	Preview    string    `json:"preview"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("push: kafka_brokers and kafka_topic are required for mode %q", ModeKafka)
	}
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		now: time.Now,
	}, nil
}

func (k *Kafka) Name() string { return ModeKafka }

func (k *Kafka) Send(ctx context.Context, n Notice) error {
	value, err := json.Marshal(KafkaEvent{
		Type:       EventNotificationCreated,
		ReceiverID: n.ReceiverID,
		RoomID:     n.RoomID,
		MessageID:  n.MessageID,
		Preview:    n.Preview,
		CreatedAt:  k.now().UTC(),
	})
	if err != nil {
		return err
	}
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(n.ReceiverID),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(EventNotificationCreated)}},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
