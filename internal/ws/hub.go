// Package ws: realtime-транспорт чата поверх WebSocket: топики комнат,
// личные топики пользователей и разбор входящих фреймов.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmchat/internal/chat"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/metrics"
	"github.com/dmchat/internal/model"
)

const handleTimeout = 5 * time.Second

// ChatService: операции чата, доступные из фреймов.
type ChatService interface {
	Send(ctx context.Context, req chat.SendRequest) (*model.MessageView, error)
	MarkRead(ctx context.Context, req chat.ReadRequest) (bool, error)
	CheckAccess(ctx context.Context, roomID, userID string) (*model.Room, error)
}

// Hooks вызываются из цикла хаба синхронно. Присутствие в комнате при
// отключении не снимается.
type Hooks struct {
	OnConnect    func(userID string)
	OnDisconnect func(userID string)
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{} // личные топики: userID -> соединения
	topics   map[string]map[*Client]struct{} // топики комнат
	total    int
	maxConns int

	chat  ChatService
	hooks Hooks

	register   chan *Client
	unregister chan *Client
	stopping   chan struct{}
}

func NewHub(chat ChatService, maxConns int, hooks Hooks) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		chat:       chat,
		hooks:      hooks,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stopping:   make(chan struct{}),
	}
}

// Run обслуживает регистрацию соединений до отмены ctx, затем закрывает все
// соединения и дожидается их насосов.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.stopping)
	// Под мьютексом только собираем клиентов, закрываем без него.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.topics = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()
	metrics.WSConnections.Set(0)

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
	// Успевшие встать в очередь регистрации в хаб уже не попадут.
	for {
		select {
		case c := <-h.register:
			c.Close()
		default:
			return
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	logger.Debugf("ws connected user=%s", c.userID)
	if h.hooks.OnConnect != nil {
		h.hooks.OnConnect(c.userID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	for topic := range c.topics {
		h.leaveLocked(c, topic)
	}
	h.total--
	h.mu.Unlock()

	// Сетевой I/O вне блокировки.
	c.Close()
	metrics.WSConnections.Dec()
	logger.Debugf("ws disconnected user=%s", c.userID)
	if h.hooks.OnDisconnect != nil {
		h.hooks.OnDisconnect(c.userID)
	}
}

// HandleMessage разбирает входящий фрейм по типу.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	switch msg.Type {
	case EventSend:
		h.handleSend(ctx, c, msg)
	case EventRead:
		h.handleRead(ctx, c, msg)
	case EventSubscribe:
		h.handleSubscribe(ctx, c, msg)
	case EventUnsubscribe:
		h.handleUnsubscribe(c, msg)
	default:
		h.sendError(c, msg.Type, CodeValidation, "unknown event type")
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	if msg.SenderID != "" && msg.SenderID != c.userID {
		h.sendError(c, msg.Type, CodeValidation, "sender_id does not match the connection")
		return
	}
	view, err := h.chat.Send(ctx, chat.SendRequest{
		RoomID:           msg.RoomID,
		SenderID:         c.userID,
		SenderNickname:   msg.SenderNickname,
		Content:          msg.Content,
		MessageType:      msg.MessageType,
		ReceiverID:       msg.ReceiverID,
		ReceiverNickname: msg.ReceiverNickname,
	})
	if err != nil {
		h.replyError(c, msg.Type, err)
		return
	}
	// Отправитель подписывается на комнату; если он не был подписан, рассылка
	// его не застала, и сообщение отдаётся ему напрямую.
	if h.join(c, view.RoomID) {
		h.sendToClient(c, OutgoingMessage{Type: EventMessage, Payload: view})
	}
}

func (h *Hub) handleRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.UserID != "" && msg.UserID != c.userID {
		h.sendError(c, msg.Type, CodeValidation, "user_id does not match the connection")
		return
	}
	_, err := h.chat.MarkRead(ctx, chat.ReadRequest{RoomID: msg.RoomID, UserID: c.userID, MessageID: msg.MessageID})
	if err != nil {
		h.replyError(c, msg.Type, err)
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, msg IncomingMessage) {
	room, err := h.chat.CheckAccess(ctx, msg.RoomID, c.userID)
	if err != nil {
		h.replyError(c, msg.Type, err)
		return
	}
	h.join(c, room.ID)
	h.sendToClient(c, OutgoingMessage{Type: EventSubscribed, Payload: SubscribedPayload{RoomID: room.ID, Subscribed: true}})
}

func (h *Hub) handleUnsubscribe(c *Client, msg IncomingMessage) {
	if msg.RoomID == "" {
		h.sendError(c, msg.Type, CodeValidation, "room_id required")
		return
	}
	h.mu.Lock()
	h.leaveLocked(c, roomTopic(msg.RoomID))
	h.mu.Unlock()
	h.sendToClient(c, OutgoingMessage{Type: EventSubscribed, Payload: SubscribedPayload{RoomID: msg.RoomID, Subscribed: false}})
}

// join подписывает c на комнату; true: подписки раньше не было.
func (h *Hub) join(c *Client, roomID string) bool {
	topic := roomTopic(roomID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.topics[topic]; ok {
		return false
	}
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][c] = struct{}{}
	c.topics[topic] = struct{}{}
	return true
}

func (h *Hub) leaveLocked(c *Client, topic string) {
	delete(c.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) replyError(c *Client, req EventType, err error) {
	code := CodeInternal
	switch {
	case errors.Is(err, chat.ErrValidation):
		code = CodeValidation
	case errors.Is(err, chat.ErrNotFound):
		code = CodeNotFound
	default:
		logger.Errorf("ws %s user=%s: %v", req, c.userID, err)
	}
	text := err.Error()
	if code == CodeInternal {
		text = "internal error"
	}
	h.sendError(c, req, code, text)
}

func (h *Hub) sendError(c *Client, req EventType, code, text string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Code: code, Message: text, Request: req}})
}

// PublishRoom рассылает событие подписчикам комнаты.
func (h *Hub) PublishRoom(roomID, event string, payload any) {
	h.sendToTopic(roomTopic(roomID), OutgoingMessage{Type: EventType(event), Payload: payload})
}

// PublishUser отправляет событие во все соединения пользователя.
func (h *Hub) PublishUser(userID, event string, payload any) {
	h.sendToUser(userID, OutgoingMessage{Type: EventType(event), Payload: payload})
}

func (h *Hub) sendToTopic(topic string, msg OutgoingMessage) {
	h.mu.RLock()
	subs := h.topics[topic]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Буфер отправки полон: медленный клиент отключается.
		metrics.BroadcastDropped.Inc()
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

// Register после начала остановки сразу закрывает соединение.
func (h *Hub) Register(c *Client) {
	select {
	case <-h.stopping:
		c.Close()
		return
	default:
	}
	select {
	case h.register <- c:
	case <-h.stopping:
		c.Close()
	}
}

// Unregister не блокируется во время остановки: shutdown ждёт насосы
// клиентов и уже не читает h.unregister.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
	}
}
