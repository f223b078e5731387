package passwordless

import (
	"context"
	"time"
)

// TokenStore persists tokens keyed by their entry key.
// Implementations must be safe for concurrent use, and each method must be
// atomic.
type TokenStore interface {
	// Put stores the token, overwriting any token with the same key.
	Put(ctx context.Context, token *Token) error

	// Get returns the token with the given key, or nil if there is none.
	Get(ctx context.Context, key string) (*Token, error)

	// Delete removes the token with the given key. It's a no-op if there is
	// none.
	Delete(ctx context.Context, key string) error

	// Take removes the token with the given key and returns it, or returns
	// nil if there is none. Of concurrent calls with the same key at most one
	// gets the token.
	Take(ctx context.Context, key string) (*Token, error)
}

// UserKeyIndex tracks the current entry key of users.
// Implementations must be safe for concurrent use, and each method must be
// atomic.
type UserKeyIndex interface {
	// SetCurrent sets the current key of the user and returns the previous
	// one, or "" if there was none.
	SetCurrent(ctx context.Context, userID, key string) (prev string, err error)

	// Current returns the current key of the user, or "" if there is none.
	Current(ctx context.Context, userID string) (string, error)

	// ClearCurrent removes the current key of the user, but only if it
	// equals key.
	ClearCurrent(ctx context.Context, userID, key string) error
}

// Store is the persistence used by Authenticator.
type Store interface {
	TokenStore
	UserKeyIndex
}

// ExpiredPurger is implemented by stores that keep expired tokens until told
// otherwise.
type ExpiredPurger interface {
	// PurgeExpired removes tokens expired at now, and returns how many were
	// removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
