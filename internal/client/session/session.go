// Package session owns the in-memory master key while the vault is unlocked.
//
// The key never leaves the Session: callers borrow it for the duration of a
// callback passed to WithMasterKey. Lock wipes the key and runs the
// registered lock hooks under the same write lock, so no reader can observe
// a half-cleared state.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/cryptox"
)

// ErrLocked is returned by every operation that needs the master key while
// the session is locked.
var ErrLocked = errors.New("session is locked")

type State int

const (
	StateLocked State = iota
	StateUnlocked
)

func (s State) String() string {
	if s == StateUnlocked {
		return "unlocked"
	}
	return "locked"
}

// Session is the single owner of the master key.
//
// Lock order: Session before anything a lock hook touches. A WithMasterKey
// callback must not call WithMasterKey again.
type Session struct {
	mu        sync.RWMutex
	masterKey []byte
	hooks     []func()

	activityMu   sync.Mutex
	lastActivity time.Time

	now func() time.Time
}

func New() *Session {
	return &Session{now: time.Now}
}

// Unlock installs a copy of masterKey. Any key already present is wiped first
// and the lock hooks run, as the old key's derived state is no longer valid.
func (s *Session) Unlock(masterKey []byte) error {
	if len(masterKey) != cryptox.KeySize {
		return cryptox.ErrInvalidKey
	}

	s.mu.Lock()
	if s.masterKey != nil {
		s.clearLocked()
	}
	s.masterKey = append([]byte(nil), masterKey...)
	s.mu.Unlock()

	s.Touch()
	return nil
}

// Lock wipes the master key and runs every lock hook. It is a no-op when
// already locked.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.masterKey == nil {
		return
	}
	s.clearLocked()
}

func (s *Session) clearLocked() {
	cryptox.Wipe(s.masterKey)
	s.masterKey = nil
	for _, h := range s.hooks {
		h()
	}
}

// OnLock registers a hook that runs, with the session write lock held, every
// time the master key is discarded. Hooks must not call back into Session.
func (s *Session) OnLock(hook func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// WithMasterKey calls fn with the master key while holding the read lock.
// fn must not retain the slice or pass it to another goroutine.
func (s *Session) WithMasterKey(fn func(masterKey []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.masterKey == nil {
		return ErrLocked
	}
	s.Touch()
	return fn(s.masterKey)
}

func (s *Session) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.masterKey != nil
}

func (s *Session) State() State {
	if s.IsUnlocked() {
		return StateUnlocked
	}
	return StateLocked
}

// Touch records user activity for the idle-lock policy.
func (s *Session) Touch() {
	s.activityMu.Lock()
	s.lastActivity = s.now()
	s.activityMu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return s.lastActivity
}

// LockIfIdle locks the session when no activity was recorded for at least
// timeout. It reports whether it locked.
func (s *Session) LockIfIdle(timeout time.Duration) bool {
	if timeout <= 0 || !s.IsUnlocked() {
		return false
	}
	if s.now().Sub(s.LastActivity()) < timeout {
		return false
	}
	s.Lock()
	return true
}
