package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmchat/internal/storage"
)

// Client вызывает отдельный push-сервис (services/push) по HTTP.
// Реализует Adapter и storage.SubscriptionStore: подписки хранит сервис.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой: ошибка конфигурации.
func NewClient(baseURL string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("push: push_service_url is required for mode %q", ModeService)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// SubscribeRequest: тело POST /api/subscribe.
type SubscribeRequest struct {
	UserID       string               `json:"user_id"`
	Subscription storage.Subscription `json:"subscription"`
}

// UnsubscribeRequest: тело DELETE /api/subscribe.
type UnsubscribeRequest struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
}

// NotifyRequest: тело POST /api/notify.
type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

func (c *Client) Name() string { return ModeService }

func (c *Client) Send(ctx context.Context, n Notice) error {
	title, body := n.text()
	return c.do(ctx, http.MethodPost, "/api/notify", NotifyRequest{
		UserID: n.ReceiverID,
		Title:  title,
		Body:   body,
		Data:   map[string]string{"room_id": n.RoomID, "message_id": n.MessageID},
	})
}

func (c *Client) AddSubscription(ctx context.Context, userID string, sub storage.Subscription) error {
	return c.do(ctx, http.MethodPost, "/api/subscribe", SubscribeRequest{UserID: userID, Subscription: sub})
}

func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	return c.do(ctx, http.MethodDelete, "/api/subscribe", UnsubscribeRequest{UserID: userID, Endpoint: endpoint})
}

// Subscriptions недоступны через API сервиса.
func (c *Client) Subscriptions(ctx context.Context, userID string) ([]storage.Subscription, error) {
	return nil, fmt.Errorf("push: subscriptions are owned by the push service")
}

func (c *Client) Close() error { return nil }

func (c *Client) do(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push %s %s: %d", method, path, resp.StatusCode)
	}
	return nil
}
