package preview

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/stonefield/broker-api/internal/types"
)

// Cache maps one-time preview tokens to the priced order request that
// produced them. Submit only ever honors a request that came out of this
// cache, so the price and amounts a client confirmed cannot be tampered
// with between preview and execution.
//
// Entries expire after the configured TTL. A token is consumed on first
// successful read: the second reader of the same token sees a miss.
type Cache struct {
	mu  sync.Mutex
	c   *ristretto.Cache
	ttl time.Duration
}

func NewCache(ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

// Put stores a priced preview and returns its one-time token. Wait
// flushes ristretto's set buffer so the token is usable as soon as it is
// handed back to the caller.
func (c *Cache) Put(p *types.OrderPreview) string {
	token := "PRV_" + uuid.New().String()
	p.Token = token
	p.CreatedAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.SetWithTTL(token, p, 1, c.ttl)
	c.c.Wait()
	return token
}

// Consume returns the preview for token and deletes it. First reader
// wins: concurrent consumers of the same token race on the mutex and the
// loser sees a miss, which submit reports as an expired token.
func (c *Cache) Consume(token string) (*types.OrderPreview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.c.Get(token)
	if !ok {
		return nil, false
	}
	c.c.Del(token)
	c.c.Wait()

	p, ok := v.(*types.OrderPreview)
	return p, ok
}
