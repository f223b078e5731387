package passwordless

import (
	"context"
	"strings"
	"sync"
)

// User is a user as seen by the Authenticator.
type User struct {
	// ID of the user, opaque to the Authenticator.
	ID string

	// Email of the user. Entry links are sent here.
	Email string

	// Name is the display name of the user.
	Name string
}

// DisplayName returns the name of the user, or the email if the name is not
// known.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// MemUsers is an in-memory UserDirectory. Emails are matched case
// insensitively.
type MemUsers struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
}

// NewMemUsers creates a MemUsers holding the given users.
func NewMemUsers(users ...*User) *MemUsers {
	m := &MemUsers{
		byID:    map[string]*User{},
		byEmail: map[string]*User{},
	}
	for _, u := range users {
		m.Add(u)
	}
	return m
}

// Add adds or replaces a user.
func (m *MemUsers) Add(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byID[u.ID]; ok {
		delete(m.byEmail, strings.ToLower(old.Email))
	}
	m.byID[u.ID] = u
	m.byEmail[strings.ToLower(u.Email)] = u
}

// FindByEmail implements UserDirectory.
func (m *MemUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// FindByID implements UserDirectory.
func (m *MemUsers) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}
