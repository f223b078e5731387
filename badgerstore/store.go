// Package badgerstore provides a passwordless.Store using an embedded Badger
// database. Tokens carry a Badger TTL, so expired tokens disappear without
// sweeping.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	passwordless "github.com/jtclabs/passwordless-entry"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Key prefixes.
const (
	tokenPrefix   = "ple/t/"
	currentPrefix = "ple/c/"
)

// maxConflictRetries bounds the retries of transactions aborted by
// badger.ErrConflict.
const maxConflictRetries = 100

// Store is a passwordless.Store using Badger.
type Store struct {
	db *badger.DB

	// owned tells if db was opened by Open and must be closed by Close.
	owned bool
}

// New creates a Store using an already opened database.
// Conflict detection must be enabled on db (it is by default).
// This function panics if db is nil.
func New(db *badger.DB) *Store {
	if db == nil {
		panic("db must be provided")
	}
	return &Store{db: db}
}

// Open opens a Badger database in dir and returns a Store using it.
// If dir is empty, the database is kept in memory.
// Badger logs are written to log if it is not nil.
func Open(dir string, log *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithInMemory(dir == "")
	if log != nil {
		opts = opts.WithLogger(&badgerLogger{log.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open db: %w", err)
	}
	return &Store{db: db, owned: true}, nil
}

// Close closes the database if it was opened by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func tokenKey(key string) []byte {
	return []byte(tokenPrefix + key)
}

func currentKey(userID string) []byte {
	return []byte(currentPrefix + userID)
}

// update runs fn in a read-write transaction, retrying it if it conflicts
// with a concurrent transaction.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for i := 0; ; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || i == maxConflictRetries {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// getValue returns the value of key in txn, or nil if it does not exist.
func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func decodeToken(data []byte) (*passwordless.Token, error) {
	if data == nil {
		return nil, nil
	}
	token := &passwordless.Token{}
	if err := bson.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("badgerstore: decode token: %w", err)
	}
	return token, nil
}

// Put implements passwordless.TokenStore.
func (s *Store) Put(ctx context.Context, token *passwordless.Token) error {
	data, err := bson.Marshal(token)
	if err != nil {
		return fmt.Errorf("badgerstore: encode token: %w", err)
	}

	// Badger expiry has a resolution of seconds, keep the token a bit
	// longer than needed; Verify checks Expires anyway.
	e := badger.NewEntry(tokenKey(token.Key), data).
		WithTTL(time.Until(token.Expires) + time.Second)

	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.SetEntry(e)
	})
}

// Get implements passwordless.TokenStore.
func (s *Store) Get(_ context.Context, key string) (*passwordless.Token, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) (err error) {
		data, err = getValue(txn, tokenKey(key))
		return
	})
	if err != nil {
		return nil, err
	}
	return decodeToken(data)
}

// Delete implements passwordless.TokenStore.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(tokenKey(key))
	})
}

// Take implements passwordless.TokenStore.
func (s *Store) Take(ctx context.Context, key string) (*passwordless.Token, error) {
	var data []byte
	err := s.update(ctx, func(txn *badger.Txn) (err error) {
		data, err = getValue(txn, tokenKey(key))
		if err != nil || data == nil {
			return err
		}
		return txn.Delete(tokenKey(key))
	})
	if err != nil {
		return nil, err
	}
	return decodeToken(data)
}

// SetCurrent implements passwordless.UserKeyIndex.
func (s *Store) SetCurrent(ctx context.Context, userID, key string) (string, error) {
	var prev []byte
	err := s.update(ctx, func(txn *badger.Txn) (err error) {
		prev, err = getValue(txn, currentKey(userID))
		if err != nil {
			return err
		}
		return txn.Set(currentKey(userID), []byte(key))
	})
	return string(prev), err
}

// Current implements passwordless.UserKeyIndex.
func (s *Store) Current(_ context.Context, userID string) (string, error) {
	var cur []byte
	err := s.db.View(func(txn *badger.Txn) (err error) {
		cur, err = getValue(txn, currentKey(userID))
		return
	})
	return string(cur), err
}

// ClearCurrent implements passwordless.UserKeyIndex.
func (s *Store) ClearCurrent(ctx context.Context, userID, key string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		cur, err := getValue(txn, currentKey(userID))
		if err != nil || string(cur) != key {
			return err
		}
		return txn.Delete(currentKey(userID))
	})
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
