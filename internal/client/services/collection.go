package services

import (
	"context"
	"sync"
)

// collection is the authoritative in-memory list behind a repository.
// Every change publishes a fresh snapshot to the observers; a slow observer
// only ever sees the latest one.
type collection[T any] struct {
	id    func(T) string
	clone func(T) T

	mu      sync.RWMutex
	items   []T
	subs    map[int]chan []T
	nextSub int
}

func newCollection[T any](id func(T) string, clone func(T) T) *collection[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &collection[T]{id: id, clone: clone, subs: make(map[int]chan []T)}
}

func (c *collection[T]) snapshotLocked() []T {
	out := make([]T, len(c.items))
	for i, v := range c.items {
		out[i] = c.clone(v)
	}
	return out
}

func (c *collection[T]) publishLocked() {
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c.snapshotLocked()
	}
}

// snapshot returns a copy of the current items.
func (c *collection[T]) snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *collection[T]) get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.items {
		if c.id(v) == id {
			return c.clone(v), true
		}
	}
	var zero T
	return zero, false
}

// upsert replaces the item with the same id or appends v.
func (c *collection[T]) upsert(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v = c.clone(v)
	for i, cur := range c.items {
		if c.id(cur) == c.id(v) {
			c.items[i] = v
			c.publishLocked()
			return
		}
	}
	c.items = append(c.items, v)
	c.publishLocked()
}

func (c *collection[T]) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, cur := range c.items {
		if c.id(cur) == id {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			c.publishLocked()
			return
		}
	}
}

// update applies fn to every item; fn reports whether it changed the item.
func (c *collection[T]) update(fn func(T) (T, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for i, cur := range c.items {
		if next, ok := fn(c.clone(cur)); ok {
			c.items[i] = next
			changed = true
		}
	}
	if changed {
		c.publishLocked()
	}
}

func (c *collection[T]) replace(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make([]T, len(items))
	for i, v := range items {
		c.items[i] = c.clone(v)
	}
	c.publishLocked()
}

func (c *collection[T]) clear() {
	c.replace(nil)
}

func (c *collection[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// observe delivers the current snapshot immediately and then every change
// until ctx is done, when the channel is closed.
func (c *collection[T]) observe(ctx context.Context) <-chan []T {
	ch := make(chan []T, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, id)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// keyedMutex serializes operations on the same id while letting different
// ids proceed concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
