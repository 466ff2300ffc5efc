package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmchat/internal/chat"
	"github.com/dmchat/internal/handler"
	"github.com/dmchat/internal/idgen"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/notify"
	"github.com/dmchat/internal/presence"
	"github.com/dmchat/internal/push"
	"github.com/dmchat/internal/storage/memory"
	"github.com/dmchat/internal/upload"
	"github.com/dmchat/internal/ws"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D}

type app struct {
	server *httptest.Server
	hub    *ws.Hub
	subs   *memory.Subscriptions
	disp   *notify.Dispatcher
	online sync.Map // userID зарегистрирован в хабе
}

func newApp(t *testing.T) *app {
	t.Helper()
	store := memory.New()
	subs := memory.NewSubscriptions()
	disp := notify.NewDispatcher(store, push.Noop{}, nil, time.Second)
	svc := chat.NewService(store, idgen.New(), presence.NewTracker(), disp, nil)
	a := &app{subs: subs, disp: disp}
	hub := ws.NewHub(svc, 0, ws.Hooks{
		OnConnect: func(userID string) { a.online.Store(userID, struct{}{}) },
	})
	a.hub = hub
	svc.SetPublisher(hub)
	disp.SetPublisher(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	const maxSize = 1 << 20
	// base URL файлов известен только после старта сервера.
	mux := http.NewServeMux()
	a.server = httptest.NewServer(mux)
	uploader := upload.NewLocal(t.TempDir(), a.server.URL+"/api/files", maxSize)
	mux.Handle("/", handler.NewRouter(handler.Routes{
		Chat:   handler.NewChatHandler(svc),
		Files:  handler.NewFileHandler(svc, uploader, maxSize),
		Push:   handler.NewPushHandler(subs),
		Config: handler.NewConfigHandler(handler.PushConfig{Mode: push.ModeNoop}),
		WS:     handler.NewWSHandler(hub, "*", ws.Limits{}),
	}))
	t.Cleanup(func() {
		a.server.Close()
		cancel()
		disp.Wait()
	})
	return a
}

func (a *app) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, r)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(middleware.IdentityHeader, userID)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *app) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{middleware.IdentityHeader: {userID}})
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool {
		_, ok := a.online.Load(userID)
		return ok
	}, time.Second, 5*time.Millisecond)
	return conn
}

type frame struct {
	Type    ws.EventType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHandshakeWithoutIdentityIsRejected(t *testing.T) {
	a := newApp(t)
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeFirstContactEndToEnd(t *testing.T) {
	a := newApp(t)
	alice := a.dial(t, "alice")
	bob := a.dial(t, "bob")

	require.NoError(t, alice.WriteJSON(ws.IncomingMessage{
		Type:             ws.EventSend,
		SenderNickname:   "Alice",
		Content:          "hello bob, how is the weather over there today?",
		ReceiverID:       "bob",
		ReceiverNickname: "Bob",
	}))

	f := readFrame(t, alice)
	require.Equal(t, ws.EventMessage, f.Type)
	var view model.MessageView
	require.NoError(t, json.Unmarshal(f.Payload, &view))
	assert.Equal(t, "alice", view.SenderID)
	assert.Equal(t, "just now", view.TimeAgo)
	require.NotEmpty(t, view.RoomID)

	f = readFrame(t, bob)
	require.Equal(t, ws.EventNotification, f.Type)
	var note model.NotificationEvent
	require.NoError(t, json.Unmarshal(f.Payload, &note))
	assert.Equal(t, view.RoomID, note.RoomID)
	assert.Equal(t, view.ID, note.MessageID)
	assert.Equal(t, "hello bob, how is the weather ...", note.ContentPreview)

	resp := a.do(t, http.MethodGet, "/api/rooms/dm", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rooms := decode[[]model.DMRoomSummary](t, resp)
	require.Len(t, rooms, 1)
	assert.Equal(t, view.RoomID, rooms[0].RoomID)
	assert.Equal(t, "alice", rooms[0].OpponentID)
	assert.Equal(t, "Alice", rooms[0].OpponentNickname)
	assert.True(t, rooms[0].OpponentOnline)

	resp = a.do(t, http.MethodGet, "/api/rooms/"+view.RoomID+"/messages?page=0&size=500", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[[]model.MessageView](t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, view.ID, msgs[0].ID)

	resp = a.do(t, http.MethodPost, "/api/rooms/"+view.RoomID+"/read", "bob", handler.MarkReadRequest{MessageID: view.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[map[string]bool](t, resp)["advanced"])

	f = readFrame(t, alice)
	require.Equal(t, ws.EventReadReceipt, f.Type)
	var receipt model.ReadReceipt
	require.NoError(t, json.Unmarshal(f.Payload, &receipt))
	assert.Equal(t, model.ReadReceipt{RoomID: view.RoomID, UserID: "bob", MessageID: view.ID}, receipt)

	// повторное прочтение того же сообщения курсор не двигает.
	resp = a.do(t, http.MethodPost, "/api/rooms/"+view.RoomID+"/read", "bob", handler.MarkReadRequest{MessageID: view.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[map[string]bool](t, resp)["advanced"])
}

func TestHTTPSendAndErrorMapping(t *testing.T) {
	a := newApp(t)

	resp := a.do(t, http.MethodPost, "/api/messages", "", chat.SendRequest{RoomID: model.LobbyRoomID, Content: "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/messages", "alice", chat.SendRequest{RoomID: model.LobbyRoomID, Content: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/messages", "alice", chat.SendRequest{RoomID: model.LobbyRoomID, SenderID: "mallory", Content: "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/messages", "alice", chat.SendRequest{RoomID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "not found")

	resp = a.do(t, http.MethodPost, "/api/messages", "alice", chat.SendRequest{RoomID: model.LobbyRoomID, Content: "hi lobby"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	view := decode[model.MessageView](t, resp)
	assert.Equal(t, model.LobbyRoomID, view.RoomID)
	assert.Equal(t, "alice", view.SenderID)

	resp = a.do(t, http.MethodPost, "/api/rooms/dm", "alice", handler.CreateDMRequest{Nickname: "Alice", OpponentID: "bob", OpponentNickname: "Bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	room := decode[model.Room](t, resp)

	// посторонний не видит чужой диалог.
	resp = a.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages", "eve", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/read", "eve", handler.MarkReadRequest{MessageID: view.ID})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/read", "bob", handler.MarkReadRequest{MessageID: "not-a-ulid"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/rooms/dm", "alice", handler.CreateDMRequest{OpponentID: "alice", OpponentNickname: "me"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotificationInbox(t *testing.T) {
	a := newApp(t)
	resp := a.do(t, http.MethodPost, "/api/messages", "alice", chat.SendRequest{Content: "ping", ReceiverID: "bob", ReceiverNickname: "Bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/notifications?limit=10", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]model.Notification](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "ping", list[0].ContentPreview)
	assert.False(t, list[0].Read)

	resp = a.do(t, http.MethodGet, "/api/notifications", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]model.Notification](t, resp))

	resp = a.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/read", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/read", "bob", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/notifications", "bob", nil)
	list = decode[[]model.Notification](t, resp)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
}

func uploadImage(t *testing.T, a *app, roomID, userID string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "photo.bin")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/api/rooms/"+roomID+"/images", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.IdentityHeader, userID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestImageUploadAndServe(t *testing.T) {
	a := newApp(t)
	data := append(append([]byte{}, pngHeader...), []byte("IHDR-rest-of-image")...)

	resp := uploadImage(t, a, model.LobbyRoomID, "alice", data)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	url := decode[handler.FileUploadResponse](t, resp).URL
	require.True(t, strings.HasPrefix(url, a.server.URL+"/api/files/lobby/"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	get, err := http.Get(url)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	assert.Equal(t, "image/png", get.Header.Get("Content-Type"))
	served, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	assert.Equal(t, data, served)

	resp = uploadImage(t, a, model.LobbyRoomID, "alice", []byte("just some text"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = uploadImage(t, a, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "alice", data)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPushSubscription(t *testing.T) {
	a := newApp(t)
	var sub handler.SubscribeRequest
	sub.Subscription.Endpoint = "https://push.example/1"
	sub.Subscription.Keys.P256dh = "p"
	sub.Subscription.Keys.Auth = "a"

	resp := a.do(t, http.MethodPost, "/api/push/subscribe", "alice", sub)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	got, err := a.subs.Subscriptions(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)

	resp = a.do(t, http.MethodPost, "/api/push/subscribe", "alice", handler.SubscribeRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodDelete, "/api/push/subscribe", "alice", handler.UnsubscribeRequest{Endpoint: "https://push.example/1"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	got, err = a.subs.Subscriptions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPublicEndpoints(t *testing.T) {
	a := newApp(t)
	resp := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/config/push", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, resp)["enabled"])

	resp = a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
