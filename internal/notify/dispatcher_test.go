package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/push"
	"github.com/dmchat/internal/storage"
	"github.com/dmchat/internal/storage/memory"
)

type recordingAdapter struct {
	mu      sync.Mutex
	notices []push.Notice
	err     error
	block   bool
}

func (a *recordingAdapter) Name() string { return "test" }

func (a *recordingAdapter) Send(ctx context.Context, n push.Notice) error {
	if a.block {
		<-ctx.Done()
		return ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notices = append(a.notices, n)
	return a.err
}

type userEvents struct {
	mu     sync.Mutex
	events map[string][]any
}

func (u *userEvents) PublishUser(userID, event string, payload any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.events == nil {
		u.events = map[string][]any{}
	}
	u.events[userID] = append(u.events[userID], payload)
}

// flakyStore fails CreateNotification for one receiver.
type flakyStore struct {
	storage.NotificationStore
	failFor string
}

func (f flakyStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ReceiverID == f.failFor {
		return errors.New("insert failed")
	}
	return f.NotificationStore.CreateNotification(ctx, n)
}

func participants(roomID string, ids ...string) []model.Participant {
	out := make([]model.Participant, len(ids))
	for i, id := range ids {
		out[i] = model.Participant{RoomID: roomID, UserID: id, Nickname: id}
	}
	return out
}

func TestOnMessageSentPersistsAndPublishes(t *testing.T) {
	store := memory.New()
	adapter := &recordingAdapter{}
	pub := &userEvents{}
	d := NewDispatcher(store, adapter, pub, time.Second)

	msg := model.Message{ID: "m1", RoomID: "r1", SenderID: "alice", Content: strings.Repeat("a", 45), Type: model.MessageTypeText}
	d.OnMessageSent(context.Background(), msg, participants("r1", "alice", "bob"))
	d.Wait()

	list, err := store.ListNotifications(context.Background(), "bob", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, strings.Repeat("a", 30)+"...", list[0].ContentPreview)
	assert.Equal(t, "m1", list[0].MessageID)
	assert.NotEmpty(t, list[0].ID)

	none, err := store.ListNotifications(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.Len(t, pub.events["bob"], 1)
	ev := pub.events["bob"][0].(model.NotificationEvent)
	assert.Equal(t, list[0].ID, ev.NotificationID)
	assert.Empty(t, pub.events["alice"])

	require.Len(t, adapter.notices, 1)
	assert.Equal(t, push.Notice{ReceiverID: "bob", RoomID: "r1", MessageID: "m1", Preview: list[0].ContentPreview}, adapter.notices[0])
}

func TestImageMessagePreview(t *testing.T) {
	store := memory.New()
	d := NewDispatcher(store, push.Noop{}, nil, time.Second)
	msg := model.Message{ID: "m1", RoomID: "r1", SenderID: "alice", Content: "http://cdn.example/a.png", Type: model.MessageTypeImage}
	d.OnMessageSent(context.Background(), msg, participants("r1", "bob"))
	d.Wait()

	list, err := store.ListNotifications(context.Background(), "bob", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.ImagePreview, list[0].ContentPreview)
}

func TestOneFailedInsertDoesNotStopOthers(t *testing.T) {
	store := memory.New()
	adapter := &recordingAdapter{}
	d := NewDispatcher(flakyStore{NotificationStore: store, failFor: "bob"}, adapter, nil, time.Second)

	msg := model.Message{ID: "m1", RoomID: "r1", SenderID: "alice", Content: "hi", Type: model.MessageTypeText}
	d.OnMessageSent(context.Background(), msg, participants("r1", "bob", "carol"))
	d.Wait()

	list, err := store.ListNotifications(context.Background(), "carol", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	require.Len(t, adapter.notices, 1)
	assert.Equal(t, "carol", adapter.notices[0].ReceiverID)
}

func TestPushErrorsAndTimeoutsAreSwallowed(t *testing.T) {
	store := memory.New()
	msg := model.Message{ID: "m1", RoomID: "r1", SenderID: "alice", Content: "hi", Type: model.MessageTypeText}

	d := NewDispatcher(store, &recordingAdapter{err: errors.New("push down")}, nil, time.Second)
	d.OnMessageSent(context.Background(), msg, participants("r1", "bob"))
	d.Wait()

	slow := NewDispatcher(store, &recordingAdapter{block: true}, nil, 20*time.Millisecond)
	start := time.Now()
	slow.OnMessageSent(context.Background(), msg, participants("r1", "carol"))
	assert.Less(t, time.Since(start), 20*time.Millisecond*5)
	slow.Wait()

	list, err := store.ListNotifications(context.Background(), "carol", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLobbyIsSkipped(t *testing.T) {
	store := memory.New()
	adapter := &recordingAdapter{}
	d := NewDispatcher(store, adapter, nil, time.Second)
	d.OnMessageSent(context.Background(), model.Message{ID: "m1", RoomID: model.LobbyRoomID, SenderID: "alice"}, participants(model.LobbyRoomID, "bob"))
	d.Wait()

	list, err := store.ListNotifications(context.Background(), "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, adapter.notices)
}
