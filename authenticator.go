package passwordless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultExpiration is the default for Config.Expiration.
	DefaultExpiration = 5 * time.Minute

	// DefaultKeyLength is the default for Config.KeyLength.
	DefaultKeyLength = 64

	// DefaultControllerParam is the default for Config.ControllerParam.
	DefaultControllerParam = "ple"

	// DefaultKeyParam is the default for Config.KeyParam.
	DefaultKeyParam = "ple_key"

	// DefaultEmailParam is the default for Config.EmailParam.
	DefaultEmailParam = "ple_email"

	// DefaultEmailSubject is the default for Config.EmailSubject.
	DefaultEmailSubject = "Your Passwordless Entry URL"
)

// Config holds Authenticator configuration.
// A zero value is a valid configuration, see constants for default values.
type Config struct {
	// Disabled turns off issuance and redemption without removing the
	// Authenticator from the application.
	Disabled bool

	// Expiration tells how long an entry key remains valid.
	// Non-positive values mean DefaultExpiration.
	Expiration time.Duration

	// KeyLength tells how many characters entry keys have.
	// Non-positive values mean DefaultKeyLength.
	KeyLength int

	// ControllerParam is the query parameter that activates the entry
	// controller. Entry links carry it with the value "true".
	ControllerParam string

	// KeyParam is the query parameter carrying the entry key.
	KeyParam string

	// EmailParam is the request parameter carrying the email on issuance.
	EmailParam string

	// SiteName is passed to the email template.
	SiteName string

	// SiteURL is the base of entry links. It should be an absolute URL.
	SiteURL string

	// EmailSubject is the subject of entry emails.
	EmailSubject string

	// EmailTemplate is the text/template source of entry emails.
	// It is executed with an EmailParams value.
	EmailTemplate string

	// Logger to use. Defaults to a no-op logger.
	Logger *zap.Logger
}

// UserDirectory resolves users. Both methods must return ErrUserNotFound
// if there is no matching user.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

// SessionStarter marks the caller of the current request as authenticated
// for the given user.
type SessionStarter interface {
	StartSession(ctx context.Context, userID string) error
}

// SessionFunc is an adapter to use ordinary functions as SessionStarter.
type SessionFunc func(ctx context.Context, userID string) error

// StartSession calls f(ctx, userID).
func (f SessionFunc) StartSession(ctx context.Context, userID string) error {
	return f(ctx, userID)
}

// SendEmailFunc sends an email. Errors are logged, they never fail issuance.
type SendEmailFunc func(ctx context.Context, to, subject, body string) error

// Authenticator is the implementation of a passwordless authenticator.
// It's safe to use it concurrently from multiple goroutines.
type Authenticator struct {
	store     Store
	users     UserDirectory
	sessions  SessionStarter
	sendEmail SendEmailFunc

	cfg        Config
	emailTempl *template.Template
	log        *zap.Logger

	// now returns the current time, replaced in tests.
	now func() time.Time

	// pending tracks emails being sent.
	pending sync.WaitGroup
}

// NewAuthenticator creates a new Authenticator.
// This function panics if any of store, users, sessions or sendEmail is nil,
// or if cfg.EmailTemplate is not a valid template.
func NewAuthenticator(
	store Store,
	users UserDirectory,
	sessions SessionStarter,
	sendEmail SendEmailFunc,
	cfg Config,
) *Authenticator {

	if store == nil {
		panic("store must be provided")
	}
	if users == nil {
		panic("users must be provided")
	}
	if sessions == nil {
		panic("sessions must be provided")
	}
	if sendEmail == nil {
		panic("sendEmail must be provided")
	}

	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.KeyLength <= 0 {
		cfg.KeyLength = DefaultKeyLength
	}
	if cfg.ControllerParam == "" {
		cfg.ControllerParam = DefaultControllerParam
	}
	if cfg.KeyParam == "" {
		cfg.KeyParam = DefaultKeyParam
	}
	if cfg.EmailParam == "" {
		cfg.EmailParam = DefaultEmailParam
	}
	if cfg.EmailSubject == "" {
		cfg.EmailSubject = DefaultEmailSubject
	}
	if cfg.EmailTemplate == "" {
		cfg.EmailTemplate = DefaultEmailTemplate
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Authenticator{
		store:      store,
		users:      users,
		sessions:   sessions,
		sendEmail:  sendEmail,
		cfg:        cfg,
		emailTempl: template.Must(template.New("email").Parse(cfg.EmailTemplate)),
		log:        cfg.Logger.Named("passwordless"),
		now:        time.Now,
	}
}

// Config returns the effective configuration (defaults filled in).
func (a *Authenticator) Config() Config {
	return a.cfg
}

// Users returns the user directory.
func (a *Authenticator) Users() UserDirectory {
	return a.users
}

// Issue creates a new entry key for the user registered with the given email,
// and emails the entry link to him/her.
//
// ErrUserNotFound is returned if no user has the given email. Callers facing
// end users should respond the same way as on success.
//
// Any previous entry key of the user is superseded. The email is sent
// asynchronously, a delivery failure does not undo the issuance.
func (a *Authenticator) Issue(ctx context.Context, email string) (*Token, error) {
	if a.cfg.Disabled {
		return nil, ErrDisabled
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			a.log.Debug("entry requested for unknown email")
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	key, err := generateKey(a.cfg.KeyLength)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	now := a.now()
	token := &Token{
		Key:      key,
		UserID:   user.ID,
		Email:    user.Email,
		EntryURL: a.EntryURL(key),
		Created:  now,
		Expires:  now.Add(a.cfg.Expiration),
	}

	if err := a.store.Put(ctx, token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	prev, err := a.store.SetCurrent(ctx, user.ID, key)
	if err != nil {
		// Not pointed to, it could never be redeemed anyway.
		if derr := a.store.Delete(ctx, key); derr != nil {
			a.log.Warn("failed to remove unindexed token", zap.String("user_id", user.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("set current key: %w", err)
	}

	if prev != "" && prev != key {
		if err := a.store.Delete(ctx, prev); err != nil {
			// The record is no longer current, Verify rejects it.
			a.log.Warn("failed to remove superseded token", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	a.log.Info("entry key issued",
		zap.String("user_id", user.ID),
		zap.Time("expires", token.Expires),
		zap.Bool("superseded", prev != ""),
	)

	a.dispatch(ctx, user, token)

	return token, nil
}

// dispatch renders the entry email and sends it in a new goroutine.
func (a *Authenticator) dispatch(ctx context.Context, user *User, token *Token) {
	params := &EmailParams{
		Name:       user.DisplayName(),
		Email:      token.Email,
		SiteName:   a.cfg.SiteName,
		EntryURL:   token.EntryURL,
		Expiration: a.cfg.Expiration,
	}

	body := &bytes.Buffer{}
	if err := a.emailTempl.Execute(body, params); err != nil {
		a.log.Error("failed to render entry email", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	ctx = context.WithoutCancel(ctx)
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		if err := a.sendEmail(ctx, token.Email, a.cfg.EmailSubject, body.String()); err != nil {
			a.log.Warn("failed to send entry email", zap.String("user_id", user.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until all emails dispatched by Issue have been handed over to
// the SendEmailFunc.
func (a *Authenticator) Wait() {
	a.pending.Wait()
}

// EntryURL returns the entry link for the given key: Config.SiteURL extended
// with the key and the controller parameters.
func (a *Authenticator) EntryURL(key string) string {
	u, err := url.Parse(a.cfg.SiteURL)
	if err != nil {
		return a.cfg.SiteURL + "?" + a.cfg.KeyParam + "=" + url.QueryEscape(key) +
			"&" + a.cfg.ControllerParam + "=true"
	}

	q := u.Query()
	q.Set(a.cfg.KeyParam, key)
	q.Set(a.cfg.ControllerParam, "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// Verify tells if the given entry key may be redeemed.
// It has no side effects.
//
// ErrInvalidKey is returned if the key is unknown, expired or superseded by
// a newer key; the reason is only logged.
func (a *Authenticator) Verify(ctx context.Context, key string) (*Token, error) {
	if a.cfg.Disabled {
		return nil, ErrDisabled
	}

	token, err := a.check(ctx, key)
	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, ErrUnknown), errors.Is(err, ErrExpired), errors.Is(err, ErrSuperseded):
		a.log.Debug("entry key rejected", zap.String("reason", err.Error()))
		return nil, ErrInvalidKey
	default:
		return nil, err
	}
}

// check performs the verification and reports the exact reason of rejection.
func (a *Authenticator) check(ctx context.Context, key string) (*Token, error) {
	if key == "" {
		return nil, ErrUnknown
	}

	token, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if token == nil {
		return nil, ErrUnknown
	}

	if token.ExpiredAt(a.now()) {
		return nil, ErrExpired
	}

	current, err := a.store.Current(ctx, token.UserID)
	if err != nil {
		return nil, fmt.Errorf("load current key: %w", err)
	}
	if current != key {
		return nil, ErrSuperseded
	}

	return token, nil
}

// Authenticate consumes the given entry key and starts a session for its
// owner.
//
// Authenticate must only be called right after Verify accepted the same key,
// in the same control flow: it does not check expiration or currency again.
// Use Redeem to do both in one call.
//
// Consumption is atomic: if the key was already consumed (for example by a
// concurrent request), ErrInvalidKey is returned and no session is started.
// If starting the session fails, the key is consumed nevertheless.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*Token, error) {
	if a.cfg.Disabled {
		return nil, ErrDisabled
	}

	token, err := a.store.Take(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if token == nil {
		a.log.Debug("entry key already consumed")
		return nil, ErrInvalidKey
	}

	if err := a.store.ClearCurrent(ctx, token.UserID, key); err != nil {
		a.log.Warn("failed to clear current key", zap.String("user_id", token.UserID), zap.Error(err))
	}

	if err := a.sessions.StartSession(ctx, token.UserID); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	a.log.Info("entry key redeemed", zap.String("user_id", token.UserID))

	return token, nil
}

// Redeem verifies the given entry key and, if it is valid, authenticates
// its owner. See Verify and Authenticate.
func (a *Authenticator) Redeem(ctx context.Context, key string) (*Token, error) {
	if _, err := a.Verify(ctx, key); err != nil {
		return nil, err
	}
	return a.Authenticate(ctx, key)
}

// RunSweeper periodically removes expired entry keys from the store, until
// ctx is cancelled. It returns immediately if the store does not implement
// ExpiredPurger (stores expiring records natively don't need sweeping).
func (a *Authenticator) RunSweeper(ctx context.Context, interval time.Duration) {
	purger, ok := a.store.(ExpiredPurger)
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx, a.now())
			if err != nil {
				a.log.Error("failed to purge expired tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				a.log.Debug("purged expired tokens", zap.Int("count", n))
			}
		}
	}
}
