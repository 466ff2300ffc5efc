package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmchat/internal/idgen"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

// Directory: создание и поиск DM-комнат и их участников.
//
// На неупорядоченную пару пользователей приходится не больше одной DM-комнаты.
// Одновременный первый контакт внутри процесса схлопывается singleflight по паре;
// между процессами второй insert отклоняет уникальный pair_key, и проигравший
// возвращает комнату победителя.
type Directory struct {
	store storage.Store
	ids   *idgen.Generator
	group singleflight.Group
	now   func() time.Time
}

func NewDirectory(store storage.Store, ids *idgen.Generator) *Directory {
	return &Directory{store: store, ids: ids, now: time.Now}
}

// ResolveOrCreateDM возвращает DM-комнату пары {userA, userB}, при отсутствии
// создаёт её вместе с обоими участниками. Порядок аргументов не важен.
func (d *Directory) ResolveOrCreateDM(ctx context.Context, userA, nameA, userB, nameB string) (*model.Room, error) {
	defer logger.DeferLogDuration("chat.ResolveOrCreateDM", time.Now())()
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" {
		return nil, invalid("sender_id", "required")
	}
	if userB == "" {
		return nil, invalid("receiver_id", "required")
	}
	if userA == userB {
		return nil, invalid("receiver_id", "cannot open a DM with yourself")
	}

	key := model.PairKey(userA, userB)
	v, err, _ := d.group.Do(key, func() (any, error) {
		return d.resolveOrCreate(ctx, key, userA, nameA, userB, nameB)
	})
	if err != nil {
		return nil, err
	}
	room := *v.(*model.Room)
	return &room, nil
}

func (d *Directory) resolveOrCreate(ctx context.Context, key, userA, nameA, userB, nameB string) (*model.Room, error) {
	rooms, err := d.store.ListDMRoomsOf(ctx, userA)
	if err != nil {
		return nil, fmt.Errorf("list dm rooms of %s: %w", userA, err)
	}
	for i := range rooms {
		ps, err := d.store.ListParticipants(ctx, rooms[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list participants of %s: %w", rooms[i].ID, err)
		}
		if len(ps) == 2 && opponent(ps, userA) != nil && opponent(ps, userA).UserID == userB {
			return &rooms[i], nil
		}
	}

	id, err := d.ids.NewID()
	if err != nil {
		return nil, err
	}
	now := d.now().UTC()
	room := &model.Room{
		ID:        id,
		Type:      model.RoomTypeDM,
		PairKey:   key,
		CreatedBy: userA,
		CreatedAt: now,
	}
	err = d.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return err
		}
		for _, p := range []model.Participant{
			{RoomID: id, UserID: userA, Nickname: nickname(nameA, userA), JoinedAt: now},
			{RoomID: id, UserID: userB, Nickname: nickname(nameB, userB), JoinedAt: now},
		} {
			if err := tx.AddParticipant(ctx, &p); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, storage.ErrConflict) {
		logger.Infof("dm room for %s created concurrently, reusing", key)
		return d.store.FindDMRoomByPair(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("create dm room: %w", err)
	}
	logger.Infof("dm room %s created for %s", room.ID, key)
	return room, nil
}

// GetRoom: лобби синтетическое и существует всегда.
func (d *Directory) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	if model.IsLobby(roomID) {
		return model.Lobby(), nil
	}
	room, err := d.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, notFound(err, ErrRoomNotFound)
	}
	return room, nil
}

// FindParticipant возвращает ErrNotParticipant, если userID не в комнате.
// У лобби участников нет, запрос по нему считается невалидным.
func (d *Directory) FindParticipant(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	if model.IsLobby(roomID) {
		return nil, invalid("room_id", "the lobby has no participants")
	}
	p, err := d.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, notFound(err, ErrNotParticipant)
	}
	return p, nil
}

// ListParticipants для лобби пуст.
func (d *Directory) ListParticipants(ctx context.Context, roomID string) ([]model.Participant, error) {
	if model.IsLobby(roomID) {
		return nil, nil
	}
	return d.store.ListParticipants(ctx, roomID)
}

// ListDMRoomsOf: только DM-комнаты, новые сверху.
func (d *Directory) ListDMRoomsOf(ctx context.Context, userID string) ([]model.Room, error) {
	return d.store.ListDMRoomsOf(ctx, userID)
}

func opponent(ps []model.Participant, userID string) *model.Participant {
	for i := range ps {
		if ps[i].UserID != userID {
			return &ps[i]
		}
	}
	return nil
}

func nickname(name, userID string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return userID
}
