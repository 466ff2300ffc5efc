package chat

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/dmchat/internal/storage"
)

// ReadTracker двигает курсоры прочтения участников. По событию read курсор идёт
// только вперёд: отметка более старого сообщения оставляет его на месте.
// Отправка своего сообщения ставит курсор отправителя на него безусловно.
type ReadTracker struct{}

// Advance ставит курсор userID в roomID на messageID через store (это может
// быть транзакция). true: курсор сдвинулся.
func (ReadTracker) Advance(ctx context.Context, store storage.RoomStore, roomID, userID, messageID string) (bool, error) {
	moved, err := store.AdvanceLastRead(ctx, roomID, userID, messageID)
	if err != nil {
		return false, notFound(err, ErrNotParticipant)
	}
	return moved, nil
}

// Set ставит курсор userID на только что записанное сообщение messageID.
func (ReadTracker) Set(ctx context.Context, store storage.RoomStore, roomID, userID, messageID string) error {
	if err := store.SetLastRead(ctx, roomID, userID, messageID); err != nil {
		return notFound(err, ErrNotParticipant)
	}
	return nil
}

// normalizeMessageID проверяет курсор от клиента и приводит его к каноническому
// виду: тогда строковое сравнение совпадает с порядком создания.
func normalizeMessageID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid("message_id", "required")
	}
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return "", invalid("message_id", "malformed id")
	}
	return parsed.String(), nil
}
