// Package storetest checks implementations of passwordless.Store.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	passwordless "github.com/jtclabs/passwordless-entry"
)

// Run runs the conformance tests against stores created by newStore.
// Each call of newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) passwordless.Store) {
	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, newStore(t)) })
	t.Run("Take", func(t *testing.T) { testTake(t, newStore(t)) })
	t.Run("TakeConcurrent", func(t *testing.T) { testTakeConcurrent(t, newStore(t)) })
	t.Run("Current", func(t *testing.T) { testCurrent(t, newStore(t)) })
	t.Run("SetCurrentConcurrent", func(t *testing.T) { testSetCurrentConcurrent(t, newStore(t)) })
}

// NewToken returns a token expiring in an hour.
func NewToken(key, userID string) *passwordless.Token {
	now := time.Now()
	return &passwordless.Token{
		Key:      key,
		UserID:   userID,
		Email:    userID + "@example.com",
		EntryURL: "https://example.com/?ple=true&ple_key=" + key,
		Created:  now,
		Expires:  now.Add(time.Hour),
	}
}

func testPutGetDelete(t *testing.T, s passwordless.Store) {
	ctx := context.Background()

	got, err := s.Get(ctx, "k1")
	if err != nil || got != nil {
		t.Errorf("Expected nil token and no error, got: %v, %v", got, err)
	}

	token := NewToken("k1", "u1")
	if err := s.Put(ctx, token); err != nil {
		t.Fatalf("Failed to put token: %v", err)
	}

	got, err = s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Failed to get token: %v", err)
	}
	if TokensDiffer(token, got) {
		t.Errorf("\nExpected: %+v,\ngot:      %+v", token, got)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Errorf("Failed to delete token: %v", err)
	}
	if got, err := s.Get(ctx, "k1"); err != nil || got != nil {
		t.Errorf("Expected nil token and no error, got: %v, %v", got, err)
	}

	// Deleting again is a no-op
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func testTake(t *testing.T, s passwordless.Store) {
	ctx := context.Background()

	token := NewToken("k1", "u1")
	if err := s.Put(ctx, token); err != nil {
		t.Fatalf("Failed to put token: %v", err)
	}

	got, err := s.Take(ctx, "k1")
	if err != nil {
		t.Fatalf("Failed to take token: %v", err)
	}
	if got == nil || TokensDiffer(token, got) {
		t.Errorf("\nExpected: %+v,\ngot:      %+v", token, got)
	}

	got, err = s.Take(ctx, "k1")
	if err != nil || got != nil {
		t.Errorf("Expected nil token and no error, got: %v, %v", got, err)
	}
	if got, err := s.Get(ctx, "k1"); err != nil || got != nil {
		t.Errorf("Expected nil token and no error, got: %v, %v", got, err)
	}
}

func testTakeConcurrent(t *testing.T, s passwordless.Store) {
	ctx := context.Background()

	if err := s.Put(ctx, NewToken("k1", "u1")); err != nil {
		t.Fatalf("Failed to put token: %v", err)
	}

	const n = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Take(ctx, "k1")
			if err != nil {
				t.Errorf("Failed to take token: %v", err)
				return
			}
			if got != nil {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if taken != 1 {
		t.Errorf("Expected: %d, got: %d", 1, taken)
	}
}

func testCurrent(t *testing.T, s passwordless.Store) {
	ctx := context.Background()

	cases := []struct {
		title   string
		op      func() (string, error)
		expPrev string
		expCur  string
	}{
		{
			title:  "absent",
			op:     func() (string, error) { return "", nil },
			expCur: "",
		},
		{
			title:  "first-set",
			op:     func() (string, error) { return s.SetCurrent(ctx, "u1", "k1") },
			expCur: "k1",
		},
		{
			title:   "overwrite",
			op:      func() (string, error) { return s.SetCurrent(ctx, "u1", "k2") },
			expPrev: "k1",
			expCur:  "k2",
		},
		{
			title:  "clear-not-matching",
			op:     func() (string, error) { return "", s.ClearCurrent(ctx, "u1", "k1") },
			expCur: "k2",
		},
		{
			title:  "clear-matching",
			op:     func() (string, error) { return "", s.ClearCurrent(ctx, "u1", "k2") },
			expCur: "",
		},
		{
			title:  "set-after-clear",
			op:     func() (string, error) { return s.SetCurrent(ctx, "u1", "k3") },
			expCur: "k3",
		},
	}

	for _, c := range cases {
		prev, err := c.op()
		if err != nil {
			t.Errorf("[%s] Expected no error, got: %v", c.title, err)
			continue
		}
		if prev != c.expPrev {
			t.Errorf("[%s] Expected prev: %q, got: %q", c.title, c.expPrev, prev)
		}
		cur, err := s.Current(ctx, "u1")
		if err != nil {
			t.Errorf("[%s] Expected no error, got: %v", c.title, err)
		}
		if cur != c.expCur {
			t.Errorf("[%s] Expected current: %q, got: %q", c.title, c.expCur, cur)
		}
	}

	// Other users are not affected
	if cur, err := s.Current(ctx, "u2"); err != nil || cur != "" {
		t.Errorf("Expected empty current and no error, got: %q, %v", cur, err)
	}
}

// testSetCurrentConcurrent checks that SetCurrent is an atomic swap: every
// key set is either returned as a previous key exactly once, or is current.
func testSetCurrentConcurrent(t *testing.T, s passwordless.Store) {
	ctx := context.Background()

	const n = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		prevs []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prev, err := s.SetCurrent(ctx, "u1", fmt.Sprint("k", i))
			if err != nil {
				t.Errorf("Failed to set current: %v", err)
				return
			}
			mu.Lock()
			prevs = append(prevs, prev)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	cur, err := s.Current(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to get current: %v", err)
	}

	got := append(prevs, cur)
	exp := []string{""}
	for i := 0; i < n; i++ {
		exp = append(exp, fmt.Sprint("k", i))
	}
	sort.Strings(got)
	sort.Strings(exp)
	if fmt.Sprint(exp) != fmt.Sprint(got) {
		t.Errorf("\nExpected: %v,\ngot:      %v", exp, got)
	}
}

// TokensDiffer compares two tokens, comparing timestamps using TimesDiffer().
func TokensDiffer(t1, t2 *passwordless.Token) bool {
	return t1.Key != t2.Key ||
		t1.UserID != t2.UserID ||
		t1.Email != t2.Email ||
		t1.EntryURL != t2.EntryURL ||
		TimesDiffer(t1.Created, t2.Created) ||
		TimesDiffer(t1.Expires, t2.Expires)
}

// TimesDiffer compares if 2 time instances, concluding mismatch if the
// difference is bigger than 1 second.
func TimesDiffer(t1, t2 time.Time) bool {
	const maxDelta = time.Second
	delta := t1.Sub(t2)
	return delta > maxDelta || delta < -maxDelta
}
