package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTTL is how long an issued requestId stays reusable.
const DefaultTTL = 5 * time.Minute

// DefaultCapacity bounds the number of distinct signatures retained.
const DefaultCapacity = 64

// ErrSignatureRequired indicates an empty signature.
var ErrSignatureRequired = errors.New("idempotency: signature required")

// Cache maps a signature to the requestId issued for it.
type Cache interface {
	// Reuse returns the requestId cached for signature while it is younger than the TTL.
	Reuse(ctx context.Context, signature string) (string, bool, error)
	// Store records requestID for signature, replacing any previous entry.
	Store(ctx context.Context, signature, requestID string) error
	// ClearIf drops the entry only when it still holds requestID.
	ClearIf(ctx context.Context, signature, requestID string) error
}

// TokenFor returns the cached requestId for signature or mints and stores a
// new one. reused reports whether the token came from the cache.
func TokenFor(ctx context.Context, c Cache, signature string) (token string, reused bool, err error) {
	if signature == "" {
		return "", false, ErrSignatureRequired
	}
	if id, ok, err := c.Reuse(ctx, signature); err != nil {
		return "", false, err
	} else if ok {
		return id, true, nil
	}
	id := uuid.NewString()
	if err := c.Store(ctx, signature, id); err != nil {
		return "", false, err
	}
	return id, false, nil
}

type entry struct {
	requestID string
	createdAt time.Time
}

// MemoryCache is a bounded in-process cache. Distinct signatures are retained
// independently up to the capacity; the least recently used is evicted first.
type MemoryCache struct {
	mu    sync.Mutex
	lru   *expirable.LRU[string, entry]
	ttl   time.Duration
	clock func() time.Time
}

// NewMemoryCache builds a MemoryCache. Non-positive arguments fall back to the defaults.
func NewMemoryCache(capacity int, ttl time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		lru:   expirable.NewLRU[string, entry](capacity, nil, ttl),
		ttl:   ttl,
		clock: time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (c *MemoryCache) WithClock(clock func() time.Time) {
	if c != nil && clock != nil {
		c.clock = clock
	}
}

// Reuse implements Cache.
func (c *MemoryCache) Reuse(_ context.Context, signature string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(signature)
	if !ok {
		return "", false, nil
	}
	if c.clock().Sub(e.createdAt) >= c.ttl {
		c.lru.Remove(signature)
		return "", false, nil
	}
	return e.requestID, true, nil
}

// Store implements Cache.
func (c *MemoryCache) Store(_ context.Context, signature, requestID string) error {
	if signature == "" {
		return ErrSignatureRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(signature, entry{requestID: requestID, createdAt: c.clock()})
	return nil
}

// ClearIf implements Cache.
func (c *MemoryCache) ClearIf(_ context.Context, signature, requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(signature); ok && e.requestID == requestID {
		c.lru.Remove(signature)
	}
	return nil
}

// Len reports the number of retained signatures.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
