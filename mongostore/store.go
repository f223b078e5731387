// Package mongostore provides MongoDB backed implementations of
// passwordless.Store and passwordless.UserDirectory, accessed via the
// official mongo-go driver.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	passwordless "github.com/jtclabs/passwordless-entry"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	// DefaultDBName is the default for Config.DBName.
	DefaultDBName = "auth"

	// DefaultTokensCollectionName is the default for Config.TokensCollectionName.
	DefaultTokensCollectionName = "ple_tokens"

	// DefaultCurrentCollectionName is the default for Config.CurrentCollectionName.
	DefaultCurrentCollectionName = "ple_current"

	// DefaultUsersCollectionName is the default for Config.UsersCollectionName.
	DefaultUsersCollectionName = "users"
)

// Config holds Store and Users configuration.
// A zero value is a valid configuration, see constants for default values.
type Config struct {
	// DBName is the name of the database.
	DBName string

	// TokensCollectionName is the name of the collection storing tokens.
	TokensCollectionName string

	// CurrentCollectionName is the name of the collection storing the
	// current key of users.
	CurrentCollectionName string

	// UsersCollectionName is the name of the collection storing users.
	UsersCollectionName string
}

func (cfg *Config) setDefaults() {
	if cfg.DBName == "" {
		cfg.DBName = DefaultDBName
	}
	if cfg.TokensCollectionName == "" {
		cfg.TokensCollectionName = DefaultTokensCollectionName
	}
	if cfg.CurrentCollectionName == "" {
		cfg.CurrentCollectionName = DefaultCurrentCollectionName
	}
	if cfg.UsersCollectionName == "" {
		cfg.UsersCollectionName = DefaultUsersCollectionName
	}
}

// current is the document of the current key of a user.
type current struct {
	UserID string `bson:"_id"`
	Key    string `bson:"key"`
}

// Store is a passwordless.Store using MongoDB.
// Tokens are removed by MongoDB once expired, see EnsureIndexes.
type Store struct {
	// ct is the tokens collection.
	ct *mongo.Collection

	// cc is the current keys collection.
	cc *mongo.Collection
}

// New creates a new Store.
// This function panics if mongoClient is nil.
func New(mongoClient *mongo.Client, cfg Config) *Store {
	if mongoClient == nil {
		panic("mongoClient must be provided")
	}
	cfg.setDefaults()

	db := mongoClient.Database(cfg.DBName)
	return &Store{
		ct: db.Collection(cfg.TokensCollectionName),
		cc: db.Collection(cfg.CurrentCollectionName),
	}
}

// EnsureIndexes creates the TTL index removing expired tokens.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.ct.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "exp", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("mongostore: create tokens TTL index: %w", err)
	}
	return nil
}

// Put implements passwordless.TokenStore.
func (s *Store) Put(ctx context.Context, token *passwordless.Token) error {
	_, err := s.ct.ReplaceOne(ctx, bson.M{"_id": token.Key}, token, options.Replace().SetUpsert(true))
	return err
}

// Get implements passwordless.TokenStore.
func (s *Store) Get(ctx context.Context, key string) (*passwordless.Token, error) {
	return decodeToken(s.ct.FindOne(ctx, bson.M{"_id": key}))
}

// Delete implements passwordless.TokenStore.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.ct.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

// Take implements passwordless.TokenStore.
func (s *Store) Take(ctx context.Context, key string) (*passwordless.Token, error) {
	return decodeToken(s.ct.FindOneAndDelete(ctx, bson.M{"_id": key}))
}

func decodeToken(res *mongo.SingleResult) (*passwordless.Token, error) {
	var token *passwordless.Token
	if err := res.Decode(&token); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return token, nil
}

// SetCurrent implements passwordless.UserKeyIndex.
func (s *Store) SetCurrent(ctx context.Context, userID, key string) (string, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var prev current
	err := s.cc.FindOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{"key": key}}, opts).Decode(&prev)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race for a new user, the document exists now.
		err = s.cc.FindOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{"key": key}}, opts).Decode(&prev)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", err
	}
	return prev.Key, nil
}

// Current implements passwordless.UserKeyIndex.
func (s *Store) Current(ctx context.Context, userID string) (string, error) {
	var cur current
	if err := s.cc.FindOne(ctx, bson.M{"_id": userID}).Decode(&cur); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", err
	}
	return cur.Key, nil
}

// ClearCurrent implements passwordless.UserKeyIndex.
func (s *Store) ClearCurrent(ctx context.Context, userID, key string) error {
	_, err := s.cc.DeleteOne(ctx, bson.M{"_id": userID, "key": key})
	return err
}
