package services

import (
	"sync"
	"time"
)

// Ceremony kinds.
const (
	ceremonyCreate = "create"
	ceremonyGet    = "get"
)

type pendingChallenge struct {
	challenge []byte
	prfSalt   []byte
	expires   time.Time
}

// challengeStore keeps the last WebAuthn challenge issued to each user per
// ceremony. A challenge can be taken once.
type challengeStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	pending map[[2]string]pendingChallenge
}

func newChallengeStore(ttl time.Duration) *challengeStore {
	return &challengeStore{ttl: ttl, now: time.Now, pending: map[[2]string]pendingChallenge{}}
}

func (c *challengeStore) put(userID, ceremony string, challenge, prfSalt []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, p := range c.pending {
		if now.After(p.expires) {
			delete(c.pending, k)
		}
	}
	c.pending[[2]string{userID, ceremony}] = pendingChallenge{
		challenge: challenge,
		prfSalt:   prfSalt,
		expires:   now.Add(c.ttl),
	}
}

// take removes and returns the pending challenge, or false when there is
// none or it expired.
func (c *challengeStore) take(userID, ceremony string) (pendingChallenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := [2]string{userID, ceremony}
	p, ok := c.pending[k]
	delete(c.pending, k)
	if !ok || c.now().After(p.expires) {
		return pendingChallenge{}, false
	}
	return p, true
}
