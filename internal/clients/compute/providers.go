package compute

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ProviderCache caches the broker's chatbot services for one wallet session.
// Concurrent misses share a single broker call.
type ProviderCache struct {
	broker Broker
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	services  []Service
	fetchedAt time.Time
	valid     bool
}

// NewProviderCache creates a cache with the given freshness window
func NewProviderCache(broker Broker, ttl time.Duration) *ProviderCache {
	return &ProviderCache{
		broker: broker,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns cached chatbot services, fetching them when stale
func (c *ProviderCache) Get(ctx context.Context) ([]Service, error) {
	c.mu.RLock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		out := append([]Service(nil), c.services...)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("services", func() (interface{}, error) {
		c.mu.RLock()
		if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
			cached := c.services
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()

		all, err := c.broker.ListServices(ctx)
		if err != nil {
			return nil, err
		}
		chatbots := make([]Service, 0, len(all))
		for _, s := range all {
			if s.ServiceType == ServiceTypeChatbot {
				chatbots = append(chatbots, s)
			}
		}

		c.mu.Lock()
		c.services = chatbots
		c.fetchedAt = c.now()
		c.valid = true
		c.mu.Unlock()
		return chatbots, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]Service(nil), v.([]Service)...), nil
}

// Invalidate drops the cached list
func (c *ProviderCache) Invalidate() {
	c.mu.Lock()
	c.services = nil
	c.valid = false
	c.mu.Unlock()
}
