package memory

import (
	"context"
	"sync"

	"github.com/dmchat/internal/storage"
)

const maxSubsPerUser = 10

// Subscriptions реализует storage.SubscriptionStore в памяти (для -dev без Redis).
type Subscriptions struct {
	mu   sync.RWMutex
	subs map[string][]storage.Subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{subs: make(map[string][]storage.Subscription)}
}

func (s *Subscriptions) Close() error { return nil }

// AddSubscription заменяет подписку с тем же endpoint; хранит не больше maxSubsPerUser последних.
func (s *Subscriptions) AddSubscription(ctx context.Context, userID string, sub storage.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[userID]
	kept := make([]storage.Subscription, 0, len(list)+1)
	kept = append(kept, sub)
	for _, existing := range list {
		if existing.Endpoint != sub.Endpoint {
			kept = append(kept, existing)
		}
	}
	if len(kept) > maxSubsPerUser {
		kept = kept[:maxSubsPerUser]
	}
	s.subs[userID] = kept
	return nil
}

func (s *Subscriptions) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[userID]
	kept := list[:0]
	for _, existing := range list {
		if existing.Endpoint != endpoint {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(s.subs, userID)
		return nil
	}
	s.subs[userID] = kept
	return nil
}

func (s *Subscriptions) Subscriptions(ctx context.Context, userID string) ([]storage.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.Subscription(nil), s.subs[userID]...), nil
}
