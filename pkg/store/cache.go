package store

import (
	"sync"
	"time"
)

// Cache is the TTL cache used by every client layer. A read past the entry's
// expiry must return a miss.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// NewCache picks the backend named by CACHE_BACKEND. The sqlite backend
// persists through the event store; anything else is in-memory.
func NewCache(backend string, s *Store) Cache {
	if backend == "sqlite" && s != nil {
		return &sqliteCache{s: s}
	}
	return NewMemoryCache()
}

// ---- SQLite-backed cache ----

type sqliteCache struct {
	s *Store
}

func (c *sqliteCache) Get(key string) ([]byte, bool) {
	var value []byte
	var expiresAt float64
	err := c.s.db.QueryRow("SELECT value, expires_at FROM cache WHERE key=?", key).Scan(&value, &expiresAt)
	if err != nil || now() > expiresAt {
		return nil, false
	}
	return value, true
}

func (c *sqliteCache) Set(key string, value []byte, ttl time.Duration) {
	c.s.db.Exec(`
		INSERT INTO cache (key, value, expires_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, value, now()+ttl.Seconds())
}

func (c *sqliteCache) Delete(key string) {
	c.s.db.Exec("DELETE FROM cache WHERE key=?", key)
}

// PurgeExpiredCache drops rows past expiry; called from Maintain.
func (s *Store) PurgeExpiredCache() (int64, error) {
	res, err := s.db.Exec("DELETE FROM cache WHERE expires_at < ?", now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- Memory cache ----

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
