package passwordless

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store. Tokens are kept until redeemed, superseded
// or purged by PurgeExpired.
type MemStore struct {
	mu      sync.Mutex
	tokens  map[string]Token
	current map[string]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		tokens:  map[string]Token{},
		current: map[string]string{},
	}
}

// Put implements TokenStore.
func (s *MemStore) Put(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.Key] = *token
	return nil
}

// Get implements TokenStore.
func (s *MemStore) Get(_ context.Context, key string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// Delete implements TokenStore.
func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, key)
	return nil
}

// Take implements TokenStore.
func (s *MemStore) Take(_ context.Context, key string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, key)
	return &t, nil
}

// SetCurrent implements UserKeyIndex.
func (s *MemStore) SetCurrent(_ context.Context, userID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current[userID]
	s.current[userID] = key
	return prev, nil
}

// Current implements UserKeyIndex.
func (s *MemStore) Current(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current[userID], nil
}

// ClearCurrent implements UserKeyIndex.
func (s *MemStore) ClearCurrent(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current[userID] == key {
		delete(s.current, userID)
	}
	return nil
}

// PurgeExpired implements ExpiredPurger.
func (s *MemStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, t := range s.tokens {
		if !t.ExpiredAt(now) {
			continue
		}
		delete(s.tokens, key)
		if s.current[t.UserID] == key {
			delete(s.current, t.UserID)
		}
		n++
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tokens)
}
