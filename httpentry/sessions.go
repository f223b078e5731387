package httpentry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionCookie is the default for CookieSessions.Name.
	DefaultSessionCookie = "ple_session"

	// DefaultSessionMaxAge is the default for CookieSessions.MaxAge.
	DefaultSessionMaxAge = 14 * 24 * time.Hour
)

// ErrNoResponseWriter is returned by CookieSessions.StartSession if the
// context has no response writer attached, see WithResponseWriter.
var ErrNoResponseWriter = errors.New("httpentry: no response writer in context")

type responseWriterKey struct{}

// WithResponseWriter returns a context carrying w, used by CookieSessions to
// set the session cookie.
func WithResponseWriter(ctx context.Context, w http.ResponseWriter) context.Context {
	return context.WithValue(ctx, responseWriterKey{}, w)
}

// responseWriter returns the response writer attached to ctx.
func responseWriter(ctx context.Context) (http.ResponseWriter, bool) {
	w, ok := ctx.Value(responseWriterKey{}).(http.ResponseWriter)
	return w, ok
}

// CookieSessions implements passwordless.SessionStarter with HS256 signed
// JWTs kept in a cookie. Sessions are not stored on the server: the token
// carries the user ID (sub) and the expiration (exp).
type CookieSessions struct {
	// Name of the cookie.
	Name string

	// MaxAge of sessions.
	MaxAge time.Duration

	// Secure tells if the cookie is only sent over HTTPS.
	Secure bool

	secret []byte
}

// NewCookieSessions creates a CookieSessions with default settings, signing
// tokens with secret.
// This function panics if secret is empty.
func NewCookieSessions(secret []byte, secure bool) *CookieSessions {
	if len(secret) == 0 {
		panic("secret must be provided")
	}
	return &CookieSessions{
		Name:   DefaultSessionCookie,
		MaxAge: DefaultSessionMaxAge,
		Secure: secure,
		secret: secret,
	}
}

// StartSession implements passwordless.SessionStarter.
// The response writer must be attached to ctx with WithResponseWriter.
func (cs *CookieSessions) StartSession(ctx context.Context, userID string) error {
	w, ok := responseWriter(ctx)
	if !ok {
		return ErrNoResponseWriter
	}

	now := time.Now()
	expires := now.Add(cs.MaxAge)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(now),
	})
	signed, err := token.SignedString(cs.secret)
	if err != nil {
		return fmt.Errorf("sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cs.Name,
		Value:    signed,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   cs.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// UserID returns the ID of the user logged in by r, if any.
func (cs *CookieSessions) UserID(r *http.Request) (string, bool) {
	c, err := r.Cookie(cs.Name)
	if err != nil {
		return "", false
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(c.Value, claims, func(token *jwt.Token) (interface{}, error) {
		return cs.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// LoggedIn tells if r belongs to a logged in user.
func (cs *CookieSessions) LoggedIn(r *http.Request) bool {
	_, ok := cs.UserID(r)
	return ok
}
