// Package keycache caches per-entity data keys for the unlocked session.
//
// Plaintext keys enter the cache in two ways: Put, right after the server
// confirmed a create, and Get, which lazily unwraps a wrapped key previously
// recorded with Remember. The cache registers itself as a session lock hook,
// so Lock drops every plaintext key.
package keycache

import (
	"errors"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
)

// ErrKeyUnavailable means no wrapped key is known for the entity; the caller
// has to list or fetch it first.
var ErrKeyUnavailable = errors.New("entity key unavailable")

type Cache struct {
	session *session.Session

	mu      sync.RWMutex
	plain   map[string][]byte
	wrapped map[string]cryptox.Envelope
}

// New builds a cache bound to s and registers its Clear as a lock hook.
func New(s *session.Session) *Cache {
	c := &Cache{
		session: s,
		plain:   make(map[string][]byte),
		wrapped: make(map[string]cryptox.Envelope),
	}
	s.OnLock(c.Clear)
	return c
}

// NewKey generates a fresh entity key and wraps it under the master key. The
// key is not cached: call Put once the server accepted the entity.
func (c *Cache) NewKey() (key []byte, wrapped cryptox.Envelope, err error) {
	key, err = cryptox.GenerateKey()
	if err != nil {
		return nil, cryptox.Envelope{}, err
	}
	err = c.session.WithMasterKey(func(mk []byte) error {
		wrapped, err = cryptox.WrapKey(key, mk)
		return err
	})
	if err != nil {
		cryptox.Wipe(key)
		return nil, cryptox.Envelope{}, err
	}
	return key, wrapped, nil
}

// Put caches a confirmed entity key. It must be called from inside
// session.WithMasterKey so a concurrent Lock cannot slip in between the
// server acknowledgement and the cache write.
func (c *Cache) Put(id string, key []byte, wrapped cryptox.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.plain[id]; ok {
		cryptox.Wipe(old)
	}
	c.plain[id] = append([]byte(nil), key...)
	c.wrapped[id] = wrapped
}

// Remember records the wrapped key of an entity seen in a list or fetch
// response. An already unwrapped key for the same id is kept: entity keys
// never change.
func (c *Cache) Remember(id string, wrapped cryptox.Envelope) {
	c.mu.Lock()
	c.wrapped[id] = wrapped
	c.mu.Unlock()
}

// Get returns a copy of the plaintext key for id, unwrapping it on demand.
// The caller owns the copy and should wipe it when done.
func (c *Cache) Get(id string) ([]byte, error) {
	var out []byte
	err := c.session.WithMasterKey(func(mk []byte) error {
		c.mu.RLock()
		key, ok := c.plain[id]
		if ok {
			out = append([]byte(nil), key...)
			c.mu.RUnlock()
			return nil
		}
		wrapped, known := c.wrapped[id]
		c.mu.RUnlock()

		if !known {
			return ErrKeyUnavailable
		}
		key, err := cryptox.UnwrapKey(wrapped, mk)
		if err != nil {
			return err
		}

		c.mu.Lock()
		if existing, ok := c.plain[id]; ok {
			cryptox.Wipe(key)
			key = existing
		} else {
			c.plain[id] = key
		}
		out = append([]byte(nil), key...)
		c.mu.Unlock()
		return nil
	})
	return out, err
}

// Forget drops everything known about id (entity deleted).
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.plain[id]; ok {
		cryptox.Wipe(key)
		delete(c.plain, id)
	}
	delete(c.wrapped, id)
}

// Clear wipes every plaintext key. Wrapped keys stay so entities can be
// unwrapped again after the next unlock.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, key := range c.plain {
		cryptox.Wipe(key)
		delete(c.plain, id)
	}
}

// Reset forgets everything, wrapped keys included (sign-out).
func (c *Cache) Reset() {
	c.Clear()
	c.mu.Lock()
	c.wrapped = make(map[string]cryptox.Envelope)
	c.mu.Unlock()
}

// Len is the number of plaintext keys currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plain)
}
