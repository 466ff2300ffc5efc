// Package redis: подписки Web Push в Redis: список JSON под ключом push:subs:{userID}.
// Тот же формат читает отдельный push-сервис (services/push).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/storage"
)

const (
	KeyPrefix       = "push:subs:"
	MaxSubsPerUser  = 10
	SubscriptionTTL = 30 * 24 * time.Hour
)

// Client реализует storage.SubscriptionStore.
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Wrap использует уже подключённый клиент (startup.ConnectRedisWithRetry).
func Wrap(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func key(userID string) string {
	return KeyPrefix + userID
}

// AddSubscription заменяет подписку с тем же endpoint и оставляет MaxSubsPerUser последних.
func (c *Client) AddSubscription(ctx context.Context, userID string, sub storage.Subscription) error {
	defer logger.DeferLogDuration("redis.AddSubscription", time.Now())()
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("redis.AddSubscription: %w", err)
	}
	kept, err := c.without(ctx, userID, sub.Endpoint)
	if err != nil {
		return fmt.Errorf("redis.AddSubscription: %w", err)
	}
	kept = append(kept, string(raw))
	if err := c.replace(ctx, userID, kept); err != nil {
		return fmt.Errorf("redis.AddSubscription: %w", err)
	}
	return nil
}

func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	defer logger.DeferLogDuration("redis.RemoveSubscription", time.Now())()
	kept, err := c.without(ctx, userID, endpoint)
	if err != nil {
		return fmt.Errorf("redis.RemoveSubscription: %w", err)
	}
	if err := c.replace(ctx, userID, kept); err != nil {
		return fmt.Errorf("redis.RemoveSubscription: %w", err)
	}
	return nil
}

func (c *Client) Subscriptions(ctx context.Context, userID string) ([]storage.Subscription, error) {
	defer logger.DeferLogDuration("redis.Subscriptions", time.Now())()
	list, err := c.cli.LRange(ctx, key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.Subscriptions: %w", err)
	}
	subs := make([]storage.Subscription, 0, len(list))
	for _, item := range list {
		var sub storage.Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// without возвращает сырые записи пользователя, кроме подписки с endpoint.
func (c *Client) without(ctx context.Context, userID, endpoint string) ([]string, error) {
	list, err := c.cli.LRange(ctx, key(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	kept := make([]string, 0, len(list))
	for _, item := range list {
		var sub storage.Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// replace атомарно переписывает список пользователя.
func (c *Client) replace(ctx context.Context, userID string, items []string) error {
	k := key(userID)
	pipe := c.cli.TxPipeline()
	pipe.Del(ctx, k)
	if len(items) > 0 {
		vals := make([]any, len(items))
		for i, v := range items {
			vals[i] = v
		}
		pipe.RPush(ctx, k, vals...)
		pipe.LTrim(ctx, k, -MaxSubsPerUser, -1)
		pipe.Expire(ctx, k, SubscriptionTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}
