package cache

import (
	"sync"
	"time"
)

// DefaultTTL adalah masa berlaku default untuk item cache.
const DefaultTTL = 5 * time.Minute

// DefaultCleanupInterval adalah interval pembersihan item yang kedaluwarsa.
const DefaultCleanupInterval = time.Minute

type item[V any] struct {
	value      V
	expiration int64 // unix nano, 0 = tidak pernah kedaluwarsa
}

// Cache is a size-bounded map with per-entry expiry. A background sweeper
// menghapus item kedaluwarsa sampai Close dipanggil.
type Cache[K comparable, V any] struct {
	items    map[K]*item[V]
	maxItems int
	mu       sync.RWMutex
	stop     chan struct{}
	once     sync.Once
}

// New creates a cache holding at most maxItems entries (0 = unbounded)
// and sweeping every cleanupInterval (0 = DefaultCleanupInterval).
func New[K comparable, V any](maxItems int, cleanupInterval time.Duration) *Cache[K, V] {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	c := &Cache[K, V]{
		items:    make(map[K]*item[V]),
		maxItems: maxItems,
		stop:     make(chan struct{}),
	}
	go c.cleanup(cleanupInterval)
	return c
}

// Set stores value under key. A non-positive ttl never expires.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictLocked()
	}
	c.items[key] = &item[V]{value: value, expiration: expiration}
}

// evictLocked membuang item kedaluwarsa, atau jika tidak ada, item yang paling
// dekat kedaluwarsa (item tanpa expiry dibuang terakhir).
func (c *Cache[K, V]) evictLocked() {
	now := time.Now().UnixNano()
	var (
		victim    K
		victimExp int64
		found     bool
	)
	for k, it := range c.items {
		if it.expiration > 0 && now > it.expiration {
			delete(c.items, k)
			continue
		}
		exp := it.expiration
		if exp == 0 {
			exp = int64(^uint64(0) >> 1)
		}
		if !found || exp < victimExp {
			victim, victimExp, found = k, exp, true
		}
	}
	if len(c.items) >= c.maxItems && found {
		delete(c.items, victim)
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	it, exists := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}
	if it.expiration > 0 && time.Now().UnixNano() > it.expiration {
		c.mu.Lock()
		// hapus hanya jika item belum diganti oleh goroutine lain
		if current, ok := c.items[key]; ok && current == it {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return it.value, true
}

// Close menghentikan sweeper di background.
func (c *Cache[K, V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache[K, V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now().UnixNano()
			for key, it := range c.items {
				if it.expiration > 0 && now > it.expiration {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
