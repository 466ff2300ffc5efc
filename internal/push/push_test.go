package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmchat/internal/storage"
	"github.com/dmchat/internal/storage/memory"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeInApp, m)

	m, err = ParseMode(" WebPush ")
	require.NoError(t, err)
	assert.Equal(t, ModeWebPush, m)

	_, err = ParseMode("sms")
	assert.Error(t, err)
}

func TestNewSelectsAdapter(t *testing.T) {
	a, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeInApp, a.Name())

	a, err = New(Options{Mode: ModeNoop})
	require.NoError(t, err)
	assert.Equal(t, ModeNoop, a.Name())

	_, err = New(Options{Mode: ModeWebPush})
	assert.Error(t, err)

	_, err = New(Options{Mode: ModeService})
	assert.Error(t, err)

	_, err = New(Options{Mode: ModeKafka, KafkaTopic: "notifications"})
	assert.Error(t, err)

	a, err = New(Options{Mode: ModeKafka, KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "notifications"})
	require.NoError(t, err)
	assert.Equal(t, ModeKafka, a.Name())
	require.NoError(t, a.(*Kafka).Close())
}

func TestClientSendPostsNotify(t *testing.T) {
	var got NotifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/notify", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	err = c.Send(context.Background(), Notice{ReceiverID: "bob", RoomID: "r1", MessageID: "m1", Preview: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "bob", got.UserID)
	assert.Equal(t, "hi", got.Body)
	assert.Equal(t, "m1", got.Data["message_id"])
}

func TestClientSurfacesServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	assert.Error(t, c.Send(context.Background(), Notice{ReceiverID: "bob"}))
	assert.Error(t, c.RemoveSubscription(context.Background(), "bob", "https://push.example/1"))
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSendKeysByReceiver(t *testing.T) {
	w := &fakeWriter{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	k := &Kafka{w: w, now: func() time.Time { return now }}

	require.NoError(t, k.Send(context.Background(), Notice{ReceiverID: "bob", RoomID: "r1", MessageID: "m1", Preview: "[image]"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "bob", string(w.msgs[0].Key))

	var ev KafkaEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, KafkaEvent{
		Type: EventNotificationCreated, ReceiverID: "bob", RoomID: "r1", MessageID: "m1", Preview: "[image]", CreatedAt: now,
	}, ev)

	w.err = errors.New("broker down")
	assert.Error(t, k.Send(context.Background(), Notice{ReceiverID: "bob"}))
}

func browserSubscription(t *testing.T, endpoint string) storage.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	var sub storage.Subscription
	sub.Endpoint = endpoint
	sub.Keys.P256dh = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(secret)
	return sub
}

func TestWebPushDeliversAndDropsGoneSubscriptions(t *testing.T) {
	var (
		mu   sync.Mutex
		hits = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ctx := context.Background()
	subs := memory.NewSubscriptions()
	require.NoError(t, subs.AddSubscription(ctx, "bob", browserSubscription(t, srv.URL+"/live")))
	require.NoError(t, subs.AddSubscription(ctx, "bob", browserSubscription(t, srv.URL+"/gone")))

	keys, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	wp := NewWebPush(subs, keys, "").WithHTTPClient(srv.Client())

	require.NoError(t, wp.Send(ctx, Notice{ReceiverID: "bob", RoomID: "r1", MessageID: "m1", Preview: "hello"}))
	assert.Equal(t, 1, hits["/live"])
	assert.Equal(t, 1, hits["/gone"])

	left, err := subs.Subscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, srv.URL+"/live", left[0].Endpoint)
}

func TestWebPushWithoutSubscriptionsIsNoop(t *testing.T) {
	keys, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	wp := NewWebPush(memory.NewSubscriptions(), keys, "")
	assert.NoError(t, wp.Send(context.Background(), Notice{ReceiverID: "nobody"}))
}

func TestResolveVAPIDKeys(t *testing.T) {
	configured := VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}
	keys, err := ResolveVAPIDKeys(configured, "")
	require.NoError(t, err)
	assert.Equal(t, configured, keys)

	path := filepath.Join(t.TempDir(), "nested", "vapid.json")
	generated, err := ResolveVAPIDKeys(VAPIDKeys{PublicKey: "pub"}, path)
	require.NoError(t, err)
	require.True(t, generated.Complete())
	assert.NotEqual(t, "pub", generated.PublicKey)

	again, err := ResolveVAPIDKeys(VAPIDKeys{}, path)
	require.NoError(t, err)
	assert.Equal(t, generated, again)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	replaced, err := ResolveVAPIDKeys(VAPIDKeys{}, path)
	require.NoError(t, err)
	assert.True(t, replaced.Complete())
	assert.NotEqual(t, generated, replaced)
}
