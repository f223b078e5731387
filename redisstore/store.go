// Package redisstore provides a passwordless.Store using Redis.
// Tokens are stored with a Redis expiration, so expired tokens disappear
// without sweeping. Redis 6.2 or newer is required (GETDEL, SET ... GET).
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	passwordless "github.com/jtclabs/passwordless-entry"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultPrefix is the default key prefix.
const DefaultPrefix = "ple:"

// clearCurrentScript deletes KEYS[1] if its value is ARGV[1].
var clearCurrentScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Store is a passwordless.Store using Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a new Store. Keys are prefixed with prefix, DefaultPrefix is
// used if it is empty.
// This function panics if client is nil.
func New(client redis.UniversalClient, prefix string) *Store {
	if client == nil {
		panic("client must be provided")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
	}
}

func (s *Store) tokenKey(key string) string {
	return s.prefix + "t:" + key
}

func (s *Store) currentKey(userID string) string {
	return s.prefix + "c:" + userID
}

func decodeToken(op string, data []byte, err error) (*passwordless.Token, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redisstore: %s token: %w", op, err)
	}
	token := &passwordless.Token{}
	if err := bson.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("redisstore: decode token: %w", err)
	}
	return token, nil
}

// Put implements passwordless.TokenStore.
// Tokens already expired are not stored.
func (s *Store) Put(ctx context.Context, token *passwordless.Token) error {
	ttl := time.Until(token.Expires)
	if ttl <= 0 {
		return s.Delete(ctx, token.Key)
	}

	data, err := bson.Marshal(token)
	if err != nil {
		return fmt.Errorf("redisstore: encode token: %w", err)
	}
	if err := s.client.Set(ctx, s.tokenKey(token.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: put token: %w", err)
	}
	return nil
}

// Get implements passwordless.TokenStore.
func (s *Store) Get(ctx context.Context, key string) (*passwordless.Token, error) {
	data, err := s.client.Get(ctx, s.tokenKey(key)).Bytes()
	return decodeToken("get", data, err)
}

// Delete implements passwordless.TokenStore.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.tokenKey(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete token: %w", err)
	}
	return nil
}

// Take implements passwordless.TokenStore.
func (s *Store) Take(ctx context.Context, key string) (*passwordless.Token, error) {
	data, err := s.client.GetDel(ctx, s.tokenKey(key)).Bytes()
	return decodeToken("take", data, err)
}

// SetCurrent implements passwordless.UserKeyIndex.
func (s *Store) SetCurrent(ctx context.Context, userID, key string) (string, error) {
	prev, err := s.client.SetArgs(ctx, s.currentKey(userID), key, redis.SetArgs{Get: true}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redisstore: set current key: %w", err)
	}
	return prev, nil
}

// Current implements passwordless.UserKeyIndex.
func (s *Store) Current(ctx context.Context, userID string) (string, error) {
	cur, err := s.client.Get(ctx, s.currentKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redisstore: get current key: %w", err)
	}
	return cur, nil
}

// ClearCurrent implements passwordless.UserKeyIndex.
func (s *Store) ClearCurrent(ctx context.Context, userID, key string) error {
	err := clearCurrentScript.Run(ctx, s.client, []string{s.currentKey(userID)}, key).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisstore: clear current key: %w", err)
	}
	return nil
}
