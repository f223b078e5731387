package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	passwordless "github.com/jtclabs/passwordless-entry"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrEmailTaken is returned by Users.Create if the email belongs to another
// user.
var ErrEmailTaken = errors.New("mongostore: email already taken")

// User is the document of a user.
// A user may have multiple emails, entry links are sent to Email.
type User struct {
	// ID of the user.
	ID bson.ObjectID `bson:"_id"`

	// Case-sensitive primary email of the user.
	Email string `bson:"email"`

	// Lowercased emails of the user.
	// Used for lookups.
	LoweredEmails []string `bson:"lemails"`

	// Name is the display name of the user.
	Name string `bson:"name,omitempty"`

	// User creation timestamp.
	Created time.Time `bson:"c"`
}

func (u *User) toUser() *passwordless.User {
	return &passwordless.User{
		ID:    u.ID.Hex(),
		Email: u.Email,
		Name:  u.Name,
	}
}

// Users is a passwordless.UserDirectory using MongoDB.
type Users struct {
	// cu is the users collection.
	cu *mongo.Collection
}

// NewUsers creates a new Users.
// This function panics if mongoClient is nil.
func NewUsers(mongoClient *mongo.Client, cfg Config) *Users {
	if mongoClient == nil {
		panic("mongoClient must be provided")
	}
	cfg.setDefaults()

	return &Users{
		cu: mongoClient.Database(cfg.DBName).Collection(cfg.UsersCollectionName),
	}
}

// EnsureIndexes creates the unique index of lowered emails.
func (us *Users) EnsureIndexes(ctx context.Context) error {
	_, err := us.cu.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "lemails", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongostore: create users index: %w", err)
	}
	return nil
}

// Create creates a new user with the given email and display name.
func (us *Users) Create(ctx context.Context, email, name string) (*passwordless.User, error) {
	u := &User{
		ID:            bson.NewObjectID(),
		Email:         email,
		LoweredEmails: []string{strings.ToLower(email)},
		Name:          name,
		Created:       time.Now(),
	}

	if _, err := us.cu.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u.toUser(), nil
}

// FindByEmail implements passwordless.UserDirectory.
func (us *Users) FindByEmail(ctx context.Context, email string) (*passwordless.User, error) {
	return us.findOne(ctx, bson.M{"lemails": strings.ToLower(email)})
}

// FindByID implements passwordless.UserDirectory.
func (us *Users) FindByID(ctx context.Context, id string) (*passwordless.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, passwordless.ErrUserNotFound
	}
	return us.findOne(ctx, bson.M{"_id": oid})
}

func (us *Users) findOne(ctx context.Context, filter bson.M) (*passwordless.User, error) {
	var u User
	if err := us.cu.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, passwordless.ErrUserNotFound
		}
		return nil, err
	}
	return u.toUser(), nil
}
