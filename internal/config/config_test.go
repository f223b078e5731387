package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := Verify(cfg); err != nil {
		t.Errorf("Expected valid default config, got: %v", err)
	}

	ac := cfg.AuthConfig(nil)
	if ac.Disabled {
		t.Errorf("Expected enabled")
	}
	if ac.Expiration != 5*time.Minute {
		t.Errorf("Expected: %v, got: %v", 5*time.Minute, ac.Expiration)
	}
}

func TestVerify(t *testing.T) {
	cases := []struct {
		title  string
		modify func(cfg *ServerConfig)
		expErr string // substring, empty if valid
	}{
		{"valid", func(cfg *ServerConfig) {}, ""},
		{"session-secret", func(cfg *ServerConfig) { cfg.HTTP.SessionSecret = strings.Repeat("s", 32) }, ""},
		{"short-session-secret", func(cfg *ServerConfig) { cfg.HTTP.SessionSecret = "secret" }, "session_secret"},
		{"relative-site-url", func(cfg *ServerConfig) { cfg.Site.URL = "/home" }, "site.url"},
		{"zero-expiration", func(cfg *ServerConfig) { cfg.Entry.ExpirationMinutes = 0 }, "expiration_minutes"},
		{"short-key", func(cfg *ServerConfig) { cfg.Entry.KeyLength = 8 }, "key_length"},
		{"same-params", func(cfg *ServerConfig) { cfg.Entry.KeyParam = cfg.Entry.EmailParam }, "distinct"},
		{"unknown-backend", func(cfg *ServerConfig) { cfg.Store.Backend = "sql" }, "store.backend"},
		{"smtp-without-from", func(cfg *ServerConfig) { cfg.SMTP.Addr = "localhost:25" }, "smtp.from"},
		{"user-without-email", func(cfg *ServerConfig) { cfg.Users = []UserConfig{{ID: "u1"}} }, "users[0]"},
	}

	for _, c := range cases {
		cfg := Default()
		c.modify(cfg)
		err := Verify(cfg)
		if c.expErr == "" {
			if err != nil {
				t.Errorf("[%s] Expected no error, got: %v", c.title, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), c.expErr) {
			t.Errorf("[%s] Expected error containing %q, got: %v", c.title, c.expErr, err)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ple.yaml")
	content := `
site:
  name: Example
  url: https://example.com/
entry:
  key_length: 32
store:
  backend: redis
  sweep_interval: 30s
users:
  - id: u1
    email: as@as.hu
    name: Andrew
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("PLE_ENTRY__EXPIRATION_MINUTES", "10")
	t.Setenv("PLE_STORE__REDIS__ADDR", "redis:6379")
	t.Setenv("PLE_HTTP__SESSION_SECRET", strings.Repeat("s", 32))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Site.Name != "Example" || cfg.Site.URL != "https://example.com/" {
		t.Errorf("Unexpected site: %+v", cfg.Site)
	}
	if cfg.Entry.KeyLength != 32 {
		t.Errorf("Expected: %v, got: %v", 32, cfg.Entry.KeyLength)
	}
	if cfg.Entry.ExpirationMinutes != 10 {
		t.Errorf("Expected: %v, got: %v", 10, cfg.Entry.ExpirationMinutes)
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.Redis.Addr != "redis:6379" {
		t.Errorf("Unexpected store: %+v", cfg.Store)
	}
	if cfg.HTTP.SessionSecret != strings.Repeat("s", 32) {
		t.Errorf("Unexpected session secret: %q", cfg.HTTP.SessionSecret)
	}
	if cfg.Store.SweepInterval != 30*time.Second {
		t.Errorf("Expected: %v, got: %v", 30*time.Second, cfg.Store.SweepInterval)
	}
	// Not overridden
	if cfg.Store.Redis.Prefix != "ple:" || cfg.Entry.KeyParam != "ple_key" || cfg.HTTP.Addr != ":8080" {
		t.Errorf("Defaults lost: %+v", cfg)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Email != "as@as.hu" {
		t.Errorf("Unexpected users: %+v", cfg.Users)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("PLE_STORE__BACKEND", "sql")
	if _, err := Load(""); err == nil {
		t.Errorf("Expected error")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Expected error")
	}
}
