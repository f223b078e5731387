package passwordless

import "time"

// Token is an issued entry key along with its owner.
// Tokens are never modified once stored.
type Token struct {
	// Key is the random entry key, unique among stored tokens.
	Key string `bson:"_id"`

	// UserID is the ID of the owner of the token.
	UserID string `bson:"uid"`

	// Email of the owner at issuance time.
	Email string `bson:"email"`

	// EntryURL is the link sent to the owner.
	EntryURL string `bson:"url"`

	// Token creation timestamp.
	Created time.Time `bson:"c"`

	// Expires tells when this token expires.
	Expires time.Time `bson:"exp"`
}

// ExpiredAt tells if this token is expired at the given time.
// A token expires at the exact instant of Expires.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.Expires)
}

// Expired tells if this token is expired.
func (t *Token) Expired() bool {
	return t.ExpiredAt(time.Now())
}
