// Package config defines the configuration of ple-server and loads it with
// koanf from a YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	passwordless "github.com/jtclabs/passwordless-entry"
	"go.uber.org/zap"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// MinSessionSecretLength is the minimum length of HTTPConfig.SessionSecret.
const MinSessionSecretLength = 32

// ServerConfig is the configuration of ple-server.
type ServerConfig struct {
	HTTP  HTTPConfig   `koanf:"http"`
	Site  SiteConfig   `koanf:"site"`
	Entry EntryConfig  `koanf:"entry"`
	Store StoreConfig  `koanf:"store"`
	SMTP  SMTPConfig   `koanf:"smtp"`
	Log   LogConfig    `koanf:"log"`
	Users []UserConfig `koanf:"users"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr          string `koanf:"addr"`
	LoginPath     string `koanf:"login_path"`
	SecureCookies bool   `koanf:"secure_cookies"`

	// SessionSecret signs session cookies. If empty, a random secret is
	// generated at startup and sessions don't survive restarts.
	SessionSecret string `koanf:"session_secret"`
}

// SiteConfig describes the site users log in to.
type SiteConfig struct {
	Name string `koanf:"name"`
	URL  string `koanf:"url"`
}

// EntryConfig configures entry keys, see passwordless.Config.
type EntryConfig struct {
	Enabled           bool   `koanf:"enabled"`
	ExpirationMinutes int    `koanf:"expiration_minutes"`
	KeyLength         int    `koanf:"key_length"`
	ControllerParam   string `koanf:"controller_param"`
	KeyParam          string `koanf:"key_param"`
	EmailParam        string `koanf:"email_param"`
	EmailSubject      string `koanf:"email_subject"`
}

// StoreConfig selects and configures the token store.
type StoreConfig struct {
	Backend       string        `koanf:"backend"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	Mongo         MongoConfig   `koanf:"mongo"`
	Badger        BadgerConfig  `koanf:"badger"`
	Redis         RedisConfig   `koanf:"redis"`
}

// MongoConfig configures the mongo backend. Users are read from MongoDB too.
type MongoConfig struct {
	URI string `koanf:"uri"`
	DB  string `koanf:"db"`
}

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	Dir string `koanf:"dir"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// SMTPConfig configures email delivery. If Addr is empty, emails are written
// to the log instead.
type SMTPConfig struct {
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `koanf:"level"`
}

// UserConfig is a user of the in-memory user directory, used by all
// backends but mongo.
type UserConfig struct {
	ID    string `koanf:"id"`
	Email string `koanf:"email"`
	Name  string `koanf:"name"`
}

// Default returns the default configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		HTTP: HTTPConfig{
			Addr:      ":8080",
			LoginPath: "/login",
		},
		Site: SiteConfig{
			Name: "My Site",
			URL:  "http://localhost:8080/",
		},
		Entry: EntryConfig{
			Enabled:           true,
			ExpirationMinutes: int(passwordless.DefaultExpiration / time.Minute),
			KeyLength:         passwordless.DefaultKeyLength,
			ControllerParam:   passwordless.DefaultControllerParam,
			KeyParam:          passwordless.DefaultKeyParam,
			EmailParam:        passwordless.DefaultEmailParam,
			EmailSubject:      passwordless.DefaultEmailSubject,
		},
		Store: StoreConfig{
			Backend:       BackendMemory,
			SweepInterval: time.Minute,
			Mongo: MongoConfig{
				URI: "mongodb://localhost:27017",
				DB:  "auth",
			},
			Badger: BadgerConfig{
				Dir: "data/badger",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "ple:",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Verify checks the configuration.
func Verify(cfg *ServerConfig) error {
	var errs []error

	if cfg.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if cfg.HTTP.SessionSecret != "" && len(cfg.HTTP.SessionSecret) < MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("http.session_secret must be at least %d bytes", MinSessionSecretLength))
	}
	if u, err := url.Parse(cfg.Site.URL); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("site.url must be an absolute URL: %q", cfg.Site.URL))
	}

	if cfg.Entry.ExpirationMinutes <= 0 {
		errs = append(errs, errors.New("entry.expiration_minutes must be positive"))
	}
	if cfg.Entry.KeyLength < 16 {
		errs = append(errs, errors.New("entry.key_length must be at least 16"))
	}
	params := map[string]bool{}
	for _, p := range []string{cfg.Entry.ControllerParam, cfg.Entry.KeyParam, cfg.Entry.EmailParam} {
		if p == "" || params[p] {
			errs = append(errs, errors.New("entry parameter names must be non-empty and distinct"))
			break
		}
		params[p] = true
	}

	switch cfg.Store.Backend {
	case BackendMemory, BackendBadger, BackendRedis:
	case BackendMongo:
		if cfg.Store.Mongo.URI == "" {
			errs = append(errs, errors.New("store.mongo.uri is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend: %q", cfg.Store.Backend))
	}
	if cfg.Store.SweepInterval <= 0 {
		errs = append(errs, errors.New("store.sweep_interval must be positive"))
	}

	if cfg.SMTP.Addr != "" && cfg.SMTP.From == "" {
		errs = append(errs, errors.New("smtp.from is required when smtp.addr is set"))
	}

	for i, u := range cfg.Users {
		if u.ID == "" || u.Email == "" {
			errs = append(errs, fmt.Errorf("users[%d]: id and email are required", i))
		}
	}

	return errors.Join(errs...)
}

// AuthConfig returns the passwordless.Config described by cfg.
func (cfg *ServerConfig) AuthConfig(log *zap.Logger) passwordless.Config {
	return passwordless.Config{
		Disabled:        !cfg.Entry.Enabled,
		Expiration:      time.Duration(cfg.Entry.ExpirationMinutes) * time.Minute,
		KeyLength:       cfg.Entry.KeyLength,
		ControllerParam: cfg.Entry.ControllerParam,
		KeyParam:        cfg.Entry.KeyParam,
		EmailParam:      cfg.Entry.EmailParam,
		SiteName:        cfg.Site.Name,
		SiteURL:         cfg.Site.URL,
		EmailSubject:    cfg.Entry.EmailSubject,
		Logger:          log,
	}
}
