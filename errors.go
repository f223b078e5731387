package passwordless

import "errors"

var (
	// ErrDisabled is returned by all operations if Config.Disabled is set.
	ErrDisabled = errors.New("passwordless: disabled")

	// ErrUserNotFound is returned if no user matches an email or an ID.
	ErrUserNotFound = errors.New("passwordless: user not found")

	// ErrInvalidKey is returned if an entry key cannot be redeemed. It does not
	// tell why, so it can't be used to probe keys.
	ErrInvalidKey = errors.New("passwordless: invalid entry key")

	// ErrUnknown, ErrExpired and ErrSuperseded are the reasons behind
	// ErrInvalidKey. They are only reported to the log.
	ErrUnknown    = errors.New("unknown entry key")
	ErrExpired    = errors.New("entry key expired")
	ErrSuperseded = errors.New("entry key superseded")
)
