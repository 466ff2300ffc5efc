// Package memory: хранилища в памяти процесса: для тестов и запуска с -memory
// (без Postgres и Redis). Данные живут до перезапуска.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

type state struct {
	rooms         map[string]model.Room
	pairs         map[string]string
	participants  map[string]map[string]model.Participant
	messages      map[string][]model.Message
	notifications []model.Notification
}

func newState() *state {
	return &state{
		rooms:        make(map[string]model.Room),
		pairs:        make(map[string]string),
		participants: make(map[string]map[string]model.Participant),
		messages:     make(map[string][]model.Message),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	for roomID, ps := range s.participants {
		m := make(map[string]model.Participant, len(ps))
		for uid, p := range ps {
			m[uid] = p
		}
		c.participants[roomID] = m
	}
	for roomID, msgs := range s.messages {
		c.messages[roomID] = append([]model.Message(nil), msgs...)
	}
	c.notifications = append([]model.Notification(nil), s.notifications...)
	return c
}

// Store реализует storage.Store в памяти.
// Транзакция пишет в собственную копию состояния и журнал изменений; при
// коммите журнал применяется к актуальному состоянию под mu целиком или никак.
// До коммита записи транзакции снаружи не видны.
type Store struct {
	ops
	mu   sync.RWMutex
	data *state
}

func New() *Store {
	s := &Store{data: newState()}
	s.ops = ops{s}
	return s
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	var view *state
	s.read(func(st *state) { view = st.clone() })
	tx := &txStore{view: view}
	tx.ops = ops{tx}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data.clone()
	for _, apply := range tx.journal {
		if err := apply(next); err != nil {
			return err
		}
	}
	s.data = next
	return nil
}

// txStore: Store внутри InTx; вложенный InTx выполняется в той же транзакции.
type txStore struct {
	ops
	view    *state
	journal []func(st *state) error
}

func (t *txStore) read(fn func(st *state)) {
	fn(t.view)
}

func (t *txStore) write(fn func(st *state) error) error {
	if err := fn(t.view); err != nil {
		return err
	}
	t.journal = append(t.journal, fn)
	return nil
}

func (t *txStore) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return fn(t)
}

// access: доступ к состоянию: живому (Store) или транзакционному (txStore).
type access interface {
	read(fn func(st *state))
	write(fn func(st *state) error) error
}

// ops: операции хранилища поверх access, общие для Store и txStore.
type ops struct {
	access
}

func (o ops) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	var (
		r  model.Room
		ok bool
	)
	o.read(func(st *state) { r, ok = st.rooms[roomID] })
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (o ops) CreateRoom(ctx context.Context, room *model.Room) error {
	r := *room
	return o.write(func(st *state) error {
		if _, ok := st.rooms[r.ID]; ok {
			return storage.ErrConflict
		}
		if r.Type == model.RoomTypeDM && r.PairKey != "" {
			if _, ok := st.pairs[r.PairKey]; ok {
				return storage.ErrConflict
			}
			st.pairs[r.PairKey] = r.ID
		}
		st.rooms[r.ID] = r
		return nil
	})
}

func (o ops) FindDMRoomByPair(ctx context.Context, pairKey string) (*model.Room, error) {
	var (
		r  model.Room
		ok bool
	)
	o.read(func(st *state) {
		var id string
		if id, ok = st.pairs[pairKey]; ok {
			r = st.rooms[id]
		}
	})
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (o ops) ListDMRoomsOf(ctx context.Context, userID string) ([]model.Room, error) {
	rooms := make([]model.Room, 0, 8)
	o.read(func(st *state) {
		for roomID, ps := range st.participants {
			if _, ok := ps[userID]; !ok {
				continue
			}
			r, ok := st.rooms[roomID]
			if !ok || r.Type != model.RoomTypeDM {
				continue
			}
			rooms = append(rooms, r)
		}
	})
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID > rooms[j].ID
		}
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (o ops) AddParticipant(ctx context.Context, p *model.Participant) error {
	np := *p
	return o.write(func(st *state) error {
		if _, ok := st.rooms[np.RoomID]; !ok {
			return storage.ErrNotFound
		}
		ps, ok := st.participants[np.RoomID]
		if !ok {
			ps = make(map[string]model.Participant, 2)
			st.participants[np.RoomID] = ps
		}
		if _, exists := ps[np.UserID]; exists {
			return nil
		}
		ps[np.UserID] = np
		return nil
	})
}

func (o ops) GetParticipant(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	var (
		p  model.Participant
		ok bool
	)
	o.read(func(st *state) { p, ok = st.participants[roomID][userID] })
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (o ops) ListParticipants(ctx context.Context, roomID string) ([]model.Participant, error) {
	var out []model.Participant
	o.read(func(st *state) {
		ps := st.participants[roomID]
		out = make([]model.Participant, 0, len(ps))
		for _, p := range ps {
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (o ops) AdvanceLastRead(ctx context.Context, roomID, userID, messageID string) (bool, error) {
	var moved bool
	err := o.write(func(st *state) error {
		p, ok := st.participants[roomID][userID]
		if !ok {
			return storage.ErrNotFound
		}
		if p.LastReadMessageID != nil && *p.LastReadMessageID >= messageID {
			moved = false
			return nil
		}
		id := messageID
		p.LastReadMessageID = &id
		st.participants[roomID][userID] = p
		moved = true
		return nil
	})
	return moved, err
}

func (o ops) SetLastRead(ctx context.Context, roomID, userID, messageID string) error {
	return o.write(func(st *state) error {
		p, ok := st.participants[roomID][userID]
		if !ok {
			return storage.ErrNotFound
		}
		id := messageID
		p.LastReadMessageID = &id
		st.participants[roomID][userID] = p
		return nil
	})
}

func (o ops) CreateMessage(ctx context.Context, m *model.Message) error {
	msg := *m
	return o.write(func(st *state) error {
		st.messages[msg.RoomID] = append(st.messages[msg.RoomID], msg)
		return nil
	})
}

func (o ops) GetMessage(ctx context.Context, roomID, messageID string) (*model.Message, error) {
	var (
		m     model.Message
		found bool
	)
	o.read(func(st *state) {
		for _, msg := range st.messages[roomID] {
			if msg.ID == messageID {
				m, found = msg, true
				return
			}
		}
	})
	if !found {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

// newestFirst упорядочивает как ORDER BY created_at DESC, id DESC.
func newestFirst(msgs []model.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
}

func (o ops) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("memory.ListMessages: negative limit %d or offset %d", limit, offset)
	}
	var msgs []model.Message
	o.read(func(st *state) { msgs = append([]model.Message(nil), st.messages[roomID]...) })

	newestFirst(msgs)
	if offset >= len(msgs) {
		return []model.Message{}, nil
	}
	msgs = msgs[offset:]
	if limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (o ops) LastMessage(ctx context.Context, roomID string) (*model.Message, error) {
	msgs, err := o.ListMessages(ctx, roomID, 1, 0)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

func (o ops) CreateNotification(ctx context.Context, n *model.Notification) error {
	nn := *n
	return o.write(func(st *state) error {
		st.notifications = append(st.notifications, nn)
		return nil
	})
}

func (o ops) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	out := make([]model.Notification, 0, 16)
	o.read(func(st *state) {
		for i := len(st.notifications) - 1; i >= 0 && len(out) < limit; i-- {
			if n := st.notifications[i]; n.ReceiverID == userID {
				out = append(out, n)
			}
		}
	})
	return out, nil
}

func (o ops) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	return o.write(func(st *state) error {
		for i := range st.notifications {
			n := &st.notifications[i]
			if n.ID == notificationID && n.ReceiverID == userID {
				n.Read = true
				return nil
			}
		}
		return storage.ErrNotFound
	})
}
