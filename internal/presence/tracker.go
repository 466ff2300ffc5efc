// Package presence: множество «был активен в комнате» в памяти процесса.
//
// Отметка ставится при отправке сообщения и не снимается: разрыв соединения
// присутствие не отменяет, «онлайн» значит «писал в комнату с момента старта
// процесса». Ничего не сохраняется.
package presence

import "sync"

// Tracker: roomID -> множество userID. Безопасен для конкурентного доступа.
type Tracker struct {
	rooms sync.Map // roomID -> *sync.Map (userID -> struct{})
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// MarkActive идемпотентна.
func (t *Tracker) MarkActive(roomID, userID string) {
	set, ok := t.rooms.Load(roomID)
	if !ok {
		set, _ = t.rooms.LoadOrStore(roomID, &sync.Map{})
	}
	set.(*sync.Map).Store(userID, struct{}{})
}

func (t *Tracker) IsOnline(roomID, userID string) bool {
	set, ok := t.rooms.Load(roomID)
	if !ok {
		return false
	}
	_, ok = set.(*sync.Map).Load(userID)
	return ok
}
