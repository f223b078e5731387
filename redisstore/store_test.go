package redisstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	passwordless "github.com/jtclabs/passwordless-entry"
	"github.com/jtclabs/passwordless-entry/internal/storetest"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

func init() {
	c := redis.NewClient(&redis.Options{
		Addr:        "localhost:6379",
		DialTimeout: 2 * time.Second,
	})
	if err := c.Ping(context.Background()).Err(); err != nil {
		c.Close()
		return
	}
	client = c
}

// tempStore returns a store using a random prefix, its keys are removed when
// the test ends.
func tempStore(t *testing.T) *Store {
	if client == nil {
		t.Skip("Redis is not available on localhost:6379")
	}
	prefix := fmt.Sprint("ple-test-", time.Now().UnixNano(), ":")
	t.Cleanup(func() {
		ctx := context.Background()
		keys, err := client.Keys(ctx, prefix+"*").Result()
		if err != nil {
			t.Errorf("Failed to list keys: %v", err)
			return
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				t.Errorf("Failed to remove keys: %v", err)
			}
		}
	})
	return New(client, prefix)
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) passwordless.Store {
		return tempStore(t)
	})
}

func TestNew(t *testing.T) {
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic for nil client")
			}
		}()
		New(nil, "")
	}()

	s := New(redis.NewClient(&redis.Options{}), "")
	if s.prefix != DefaultPrefix {
		t.Errorf("Expected: %v, got: %v", DefaultPrefix, s.prefix)
	}
	if got := s.tokenKey("k"); got != "ple:t:k" {
		t.Errorf("Expected: %v, got: %v", "ple:t:k", got)
	}
	if got := s.currentKey("u"); got != "ple:c:u" {
		t.Errorf("Expected: %v, got: %v", "ple:c:u", got)
	}
}

func TestTokenExpiration(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)

	expired := storetest.NewToken("k1", "u1")
	expired.Expires = time.Now().Add(-time.Second)
	if err := s.Put(ctx, expired); err != nil {
		t.Fatalf("Failed to put token: %v", err)
	}
	if got, err := s.Get(ctx, "k1"); err != nil || got != nil {
		t.Errorf("Expected nil token and no error, got: %+v, %v", got, err)
	}

	token := storetest.NewToken("k2", "u1")
	if err := s.Put(ctx, token); err != nil {
		t.Fatalf("Failed to put token: %v", err)
	}
	ttl, err := client.PTTL(ctx, s.tokenKey("k2")).Result()
	if err != nil {
		t.Fatalf("Failed to get TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("Unexpected TTL: %v", ttl)
	}
}

func TestErrorsWrapped(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	s := New(client, "")
	ctx := context.Background()

	cases := []struct {
		title  string
		op     func() error
		prefix string
	}{
		{"get", func() error { _, err := s.Get(ctx, "k"); return err }, "redisstore: get token: "},
		{"take", func() error { _, err := s.Take(ctx, "k"); return err }, "redisstore: take token: "},
		{"delete", func() error { return s.Delete(ctx, "k") }, "redisstore: delete token: "},
	}

	for _, c := range cases {
		err := c.op()
		if err == nil || !strings.HasPrefix(err.Error(), c.prefix) {
			t.Errorf("[%s] Expected error with prefix %q, got: %v", c.title, c.prefix, err)
		}
	}
}
