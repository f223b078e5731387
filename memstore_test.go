package passwordless_test

import (
	"context"
	"testing"
	"time"

	passwordless "github.com/jtclabs/passwordless-entry"
	"github.com/jtclabs/passwordless-entry/internal/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) passwordless.Store {
		return passwordless.NewMemStore()
	})
}

func TestMemStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := passwordless.NewMemStore()
	now := time.Now()

	fresh := storetest.NewToken("k1", "u1")
	stale := storetest.NewToken("k2", "u2")
	stale.Expires = now.Add(-time.Second)
	superseded := storetest.NewToken("k3", "u3")
	superseded.Expires = now.Add(-time.Second)

	for _, token := range []*passwordless.Token{fresh, stale, superseded} {
		s.Put(ctx, token)
	}
	s.SetCurrent(ctx, "u1", "k1")
	s.SetCurrent(ctx, "u2", "k2")
	s.SetCurrent(ctx, "u3", "k4")

	n, err := s.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("Failed to purge: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected: %d, got: %d", 2, n)
	}
	if s.Len() != 1 {
		t.Errorf("Expected: %d, got: %d", 1, s.Len())
	}

	cases := []struct {
		userID string
		expCur string
	}{
		{"u1", "k1"},
		{"u2", ""},
		{"u3", "k4"},
	}
	for _, c := range cases {
		if cur, _ := s.Current(ctx, c.userID); cur != c.expCur {
			t.Errorf("[%s] Expected: %q, got: %q", c.userID, c.expCur, cur)
		}
	}
}

func TestMemUsers(t *testing.T) {
	ctx := context.Background()
	users := passwordless.NewMemUsers(
		&passwordless.User{ID: "u1", Email: "As@as.hu", Name: "Andrew"},
	)

	cases := []struct {
		title  string
		find   func() (*passwordless.User, error)
		expID  string
		expErr error
	}{
		{
			title: "by-email-case-insensitive",
			find:  func() (*passwordless.User, error) { return users.FindByEmail(ctx, "as@AS.hu") },
			expID: "u1",
		},
		{
			title: "by-id",
			find:  func() (*passwordless.User, error) { return users.FindByID(ctx, "u1") },
			expID: "u1",
		},
		{
			title:  "unknown-email",
			find:   func() (*passwordless.User, error) { return users.FindByEmail(ctx, "bs@as.hu") },
			expErr: passwordless.ErrUserNotFound,
		},
		{
			title:  "unknown-id",
			find:   func() (*passwordless.User, error) { return users.FindByID(ctx, "u2") },
			expErr: passwordless.ErrUserNotFound,
		},
	}

	for _, c := range cases {
		u, err := c.find()
		if err != c.expErr {
			t.Errorf("[%s] Expected: %v, got: %v", c.title, c.expErr, err)
		}
		if err == nil && u.ID != c.expID {
			t.Errorf("[%s] Expected: %v, got: %v", c.title, c.expID, u.ID)
		}
	}

	// Replacing a user drops the old email
	users.Add(&passwordless.User{ID: "u1", Email: "new@as.hu"})
	if _, err := users.FindByEmail(ctx, "as@as.hu"); err != passwordless.ErrUserNotFound {
		t.Errorf("Expected: %v, got: %v", passwordless.ErrUserNotFound, err)
	}
	if u, err := users.FindByEmail(ctx, "NEW@as.hu"); err != nil || u.DisplayName() != "new@as.hu" {
		t.Errorf("Unexpected result: %+v, %v", u, err)
	}
}
