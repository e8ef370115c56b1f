package client

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// TokenStore keeps the access/refresh token pair in memory. It is the
// TokenSource GRPCClient refreshes transparently.
type TokenStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

func (s *TokenStore) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.access == "" {
		return "", ErrNotSignedIn
	}
	return s.access, nil
}

func (s *TokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *TokenStore) Set(t rpc.Tokens) {
	s.mu.Lock()
	s.access = t.AccessToken
	s.refresh = t.RefreshToken
	s.mu.Unlock()
}

func (s *TokenStore) Clear() {
	s.Set(rpc.Tokens{})
}

// refresher is implemented by token sources that can be renewed through
// auth.refresh.
type refresher interface {
	RefreshToken() string
	Set(rpc.Tokens)
}
