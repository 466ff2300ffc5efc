package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmchat/internal/logger"
)

const (
	writeWait = 10 * time.Second

	DefaultPongWait       = 60 * time.Second
	DefaultMaxMessageSize = 8192 // 1000 символов UTF-8 плюс поля фрейма
	DefaultSendBuffer     = 256
)

// Limits: настраиваемые ограничения соединения (секция ws конфига).
type Limits struct {
	MaxMessageSize int64
	SendBuffer     int
	PongWait       time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = DefaultMaxMessageSize
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = DefaultSendBuffer
	}
	if l.PongWait <= 0 {
		l.PongWait = DefaultPongWait
	}
	return l
}

// bufPool: буферы для JSON в writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client: одно WebSocket-соединение с привязанным на всё время жизни userID.
// Жизненный цикл: NewClient -> Start -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan OutgoingMessage
	userID string
	limits Limits
	// topics: подписки на комнаты; под hub.mu.
	topics map[string]struct{}

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, limits Limits) *Client {
	limits = limits.withDefaults()
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan OutgoingMessage, limits.SendBuffer),
		userID: userID,
		limits: limits,
		topics: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Serve запускает насосы и регистрирует соединение в хабе. Не блокирует.
func Serve(hub *Hub, conn *websocket.Conn, userID string, limits Limits) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(hub, conn, userID, limits)
	c.Start(ctx, cancel)
	hub.Register(c)
	return c
}

func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *Client) Wait() {
	c.wg.Wait()
}

// Close можно звать сколько угодно раз из любой горутины.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// ReadMessage и WriteMessage вернут ошибку, насосы выйдут.
		c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.limits.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debugf("ws unmarshal error user=%s: %v", c.userID, err)
			c.hub.sendError(c, "", CodeValidation, "malformed frame")
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.limits.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msg OutgoingMessage) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
		return err
	}
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		// Битый payload пропускаем, соединение живёт.
		logger.Errorf("ws marshal %s user=%s: %v", msg.Type, c.userID, err)
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}
