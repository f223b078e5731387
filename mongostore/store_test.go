package mongostore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	passwordless "github.com/jtclabs/passwordless-entry"
	"github.com/jtclabs/passwordless-entry/internal/storetest"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var client *mongo.Client

func init() {
	opts := options.Client().
		ApplyURI("mongodb://localhost:27017").
		SetServerSelectionTimeout(2 * time.Second)
	ctx := context.Background()
	c, err := mongo.Connect(opts)
	if err != nil {
		return
	}
	if err := c.Ping(ctx, nil); err != nil {
		return
	}
	client = c
}

// tempConfig returns a config using a new database, dropped when the test
// ends.
func tempConfig(t *testing.T) Config {
	if client == nil {
		t.Skip("MongoDB is not available on localhost:27017")
	}
	cfg := Config{DBName: fmt.Sprint("tdb", time.Now().UnixNano())} // random name
	t.Cleanup(func() {
		if err := client.Database(cfg.DBName).Drop(context.Background()); err != nil {
			t.Errorf("Failed to clear temp db: %v", err)
		}
	})
	return cfg
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) passwordless.Store {
		return New(client, tempConfig(t))
	})
}

func TestNew(t *testing.T) {
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic for nil mongoClient")
			}
		}()
		New(nil, Config{})
	}()

	if client == nil {
		t.Skip("MongoDB is not available on localhost:27017")
	}

	s := New(client, Config{})
	if name := s.ct.Database().Name(); name != DefaultDBName {
		t.Errorf("Expected: %v, got: %v", DefaultDBName, name)
	}
	if name := s.ct.Name(); name != DefaultTokensCollectionName {
		t.Errorf("Expected: %v, got: %v", DefaultTokensCollectionName, name)
	}
	if name := s.cc.Name(); name != DefaultCurrentCollectionName {
		t.Errorf("Expected: %v, got: %v", DefaultCurrentCollectionName, name)
	}
}

func TestEnsureIndexes(t *testing.T) {
	ctx := context.Background()
	cfg := tempConfig(t)
	s := New(client, cfg)

	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("Failed to ensure indexes: %v", err)
	}
	// Idempotent
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Errorf("Failed to ensure indexes again: %v", err)
	}

	cursor, err := s.ct.Indexes().List(ctx)
	if err != nil {
		t.Fatalf("Failed to list indexes: %v", err)
	}
	var indexes []bson.M
	if err := cursor.All(ctx, &indexes); err != nil {
		t.Fatalf("Failed to decode indexes: %v", err)
	}
	found := false
	for _, idx := range indexes {
		if _, ok := idx["expireAfterSeconds"]; ok {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected TTL index, got: %v", indexes)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	us := NewUsers(client, tempConfig(t))

	if err := us.EnsureIndexes(ctx); err != nil {
		t.Fatalf("Failed to ensure indexes: %v", err)
	}

	created, err := us.Create(ctx, "As@as.hu", "Andrew")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if _, err := us.Create(ctx, "as@AS.hu", "Other"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Expected: %v, got: %v", ErrEmailTaken, err)
	}

	cases := []struct {
		title  string
		find   func() (*passwordless.User, error)
		expErr error
	}{
		{
			title: "by-email",
			find:  func() (*passwordless.User, error) { return us.FindByEmail(ctx, "as@as.HU") },
		},
		{
			title: "by-id",
			find:  func() (*passwordless.User, error) { return us.FindByID(ctx, created.ID) },
		},
		{
			title:  "unknown-email",
			find:   func() (*passwordless.User, error) { return us.FindByEmail(ctx, "bs@as.hu") },
			expErr: passwordless.ErrUserNotFound,
		},
		{
			title:  "unknown-id",
			find:   func() (*passwordless.User, error) { return us.FindByID(ctx, bson.NewObjectID().Hex()) },
			expErr: passwordless.ErrUserNotFound,
		},
		{
			title:  "invalid-id",
			find:   func() (*passwordless.User, error) { return us.FindByID(ctx, "invalid") },
			expErr: passwordless.ErrUserNotFound,
		},
	}

	for _, c := range cases {
		u, err := c.find()
		if !errors.Is(err, c.expErr) {
			t.Errorf("[%s] Expected: %v, got: %v", c.title, c.expErr, err)
		}
		if err == nil && *u != *created {
			t.Errorf("[%s]\nExpected: %+v,\ngot:      %+v", c.title, created, u)
		}
	}
}
