package conversation

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore keeps recently read histories in an LRU cache in front of a
// slower Store. Writes go through and drop the cached entry.
type CachedStore struct {
	Store
	messages *lru.Cache[string, []Message]

	// gen counts completed appends per session. A read only fills the cache
	// when no append finished while it was talking to the inner store.
	mu  sync.Mutex
	gen map[string]uint64
}

func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, []Message](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: inner, messages: cache, gen: make(map[string]uint64)}, nil
}

func (c *CachedStore) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	key := strings.TrimSpace(sessionID)
	defer func() {
		c.mu.Lock()
		c.gen[key]++
		c.messages.Remove(key)
		c.mu.Unlock()
	}()
	return c.Store.Append(ctx, sessionID, msgs...)
}

func (c *CachedStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	key := strings.TrimSpace(sessionID)
	if cached, ok := c.messages.Get(key); ok {
		return cloneMessages(cached), nil
	}
	c.mu.Lock()
	gen := c.gen[key]
	c.mu.Unlock()

	msgs, err := c.Store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen[key] == gen {
		c.messages.Add(key, cloneMessages(msgs))
	}
	c.mu.Unlock()
	return msgs, nil
}
