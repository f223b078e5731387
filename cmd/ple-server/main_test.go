package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	passwordless "github.com/jtclabs/passwordless-entry"
	"github.com/jtclabs/passwordless-entry/httpentry"
	"github.com/jtclabs/passwordless-entry/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestOpenBackend(t *testing.T) {
	cases := []struct {
		title   string
		backend string
		dir     string
	}{
		{"memory", config.BackendMemory, ""},
		{"badger", config.BackendBadger, t.TempDir()},
	}

	for _, c := range cases {
		cfg := config.Default()
		cfg.Store.Backend = c.backend
		cfg.Store.Badger.Dir = c.dir
		cfg.Users = []config.UserConfig{{ID: "u1", Email: "as@as.hu", Name: "Andrew"}}

		b, err := openBackend(context.Background(), cfg, zap.NewNop())
		if err != nil {
			t.Errorf("[%s] Failed to open backend: %v", c.title, err)
			continue
		}
		if u, err := b.users.FindByEmail(context.Background(), "as@as.hu"); err != nil || u.ID != "u1" {
			t.Errorf("[%s] Expected user u1, got: %v, %v", c.title, u, err)
		}
		if err := b.Close(context.Background()); err != nil {
			t.Errorf("[%s] Failed to close backend: %v", c.title, err)
		}
	}
}

func TestRouter(t *testing.T) {
	cfg := config.Default()
	cfg.Site.URL = "https://example.com/"
	cfg.Users = []config.UserConfig{{ID: "u1", Email: "as@as.hu", Name: "Andrew"}}

	var (
		mu    sync.Mutex
		links []string
	)
	send := func(ctx context.Context, to, subject, body string) error {
		mu.Lock()
		defer mu.Unlock()
		links = append(links, body)
		return nil
	}

	ac := cfg.AuthConfig(nil)
	ac.EmailTemplate = "{{.EntryURL}}"
	secret, err := sessionSecret(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create session secret: %v", err)
	}
	sessions := httpentry.NewCookieSessions(secret, false)
	auth := passwordless.NewAuthenticator(passwordless.NewMemStore(), memUsers(cfg), sessions, send, ac)
	r := newRouter(cfg, auth, sessions, prometheus.NewRegistry(), zap.NewNop())

	do := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Not logged in
	if w := do(httptest.NewRequest(http.MethodGet, "/", nil)); w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Errorf("Expected redirect to login, got: %d %s", w.Code, w.Header().Get("Location"))
	}

	// Request a link on the login page
	form := url.Values{"ple_email": {"as@as.hu"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := do(req); w.Code != http.StatusOK {
		t.Errorf("Expected: %d, got: %d", http.StatusOK, w.Code)
	}
	auth.Wait()
	if len(links) != 1 {
		t.Fatalf("Expected 1 email, got: %d", len(links))
	}

	// Follow the link
	link, err := url.Parse(links[0])
	if err != nil {
		t.Fatalf("Invalid link: %v", err)
	}
	w := do(httptest.NewRequest(http.MethodGet, "/?"+link.RawQuery, nil))
	if w.Code != http.StatusFound {
		t.Fatalf("Expected: %d, got: %d", http.StatusFound, w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Expected session cookie, got: %v", cookies)
	}

	// Logged in
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	if w := do(req); w.Body.String() != "Welcome, Andrew!" {
		t.Errorf("Expected welcome, got: %d %s", w.Code, w.Body)
	}

	// Metrics
	w = do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "ple_views_total") {
		t.Errorf("Expected ple_views_total in metrics, got: %s", w.Body)
	}
}
