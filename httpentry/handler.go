// Package httpentry exposes a passwordless.Authenticator over HTTP using gin.
//
// Two entry points are provided. Controller is a middleware intercepting
// requests that carry the controller parameter: it issues entry links and
// redeems entry keys, redirecting to the site after a successful login.
// Page is a handler rendering an embeddable login page with the same logic.
// Both render one of the views ViewRequest, ViewRequested and ViewSuccess.
package httpentry

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	passwordless "github.com/jtclabs/passwordless-entry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// View names.
const (
	ViewRequest   = "request"
	ViewRequested = "requested"
	ViewSuccess   = "success"
)

//go:embed templates/*.html
var templatesFS embed.FS

// DefaultTemplates holds the default views, one template per view named
// after the view with an ".html" suffix.
var DefaultTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// ViewData is passed as data when executing view templates.
type ViewData struct {
	SiteName        string
	SiteURL         string
	Action          string
	EmailParam      string
	ControllerParam string
}

// Config holds Handler configuration.
type Config struct {
	// SiteName is passed to the views.
	SiteName string

	// SiteURL is passed to the views, and the Controller redirects here
	// after a successful login. Defaults to "/".
	SiteURL string

	// Templates of the views. Defaults to DefaultTemplates.
	Templates *template.Template

	// LoggedIn tells if a request belongs to a logged in user. The
	// Controller lets such requests through. Optional.
	LoggedIn func(r *http.Request) bool

	// Registerer to register metrics with. Optional.
	Registerer prometheus.Registerer

	// Logger to use. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Handler serves the passwordless entry points.
type Handler struct {
	auth  *passwordless.Authenticator
	cfg   Config
	log   *zap.Logger
	views *prometheus.CounterVec
}

// New creates a new Handler.
// This function panics if auth is nil.
func New(auth *passwordless.Authenticator, cfg Config) *Handler {
	if auth == nil {
		panic("auth must be provided")
	}

	if cfg.SiteURL == "" {
		cfg.SiteURL = "/"
	}
	if cfg.Templates == nil {
		cfg.Templates = DefaultTemplates
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := &Handler{
		auth: auth,
		cfg:  cfg,
		log:  cfg.Logger.Named("httpentry"),
		views: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ple",
			Name:      "views_total",
			Help:      "Number of rendered passwordless entry views.",
		}, []string{"entry", "view"}),
	}

	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(h.views)
	}

	return h
}

// Register mounts Page on path and installs Controller on r.
func (h *Handler) Register(r gin.IRoutes, path string) {
	r.Use(h.Controller())
	r.GET(path, h.Page)
	r.POST(path, h.Page)
}

// Controller returns a middleware handling requests that carry the
// controller parameter with a true value. Other requests, requests of logged
// in users, and all requests while the Authenticator is disabled are passed
// on.
func (h *Handler) Controller() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := h.auth.Config()
		if cfg.Disabled || !isTrue(c.Request.FormValue(cfg.ControllerParam)) || h.loggedIn(c.Request) {
			c.Next()
			return
		}
		defer c.Abort()

		if email, ok := emailParam(c, cfg.EmailParam); ok {
			h.issue(c, email)
			h.render(c, "controller", ViewRequested)
			return
		}

		if key := c.Query(cfg.KeyParam); key != "" && h.redeem(c, key) {
			h.views.WithLabelValues("controller", ViewSuccess).Inc()
			c.Redirect(http.StatusFound, h.cfg.SiteURL)
			return
		}

		h.render(c, "controller", ViewRequest)
	}
}

// Page renders the login page: ViewRequested after an entry link is
// requested, ViewSuccess after an entry key is redeemed, ViewRequest
// otherwise.
func (h *Handler) Page(c *gin.Context) {
	cfg := h.auth.Config()
	if cfg.Disabled {
		c.Status(http.StatusNotFound)
		return
	}

	if email, ok := emailParam(c, cfg.EmailParam); ok {
		h.issue(c, email)
		h.render(c, "page", ViewRequested)
		return
	}

	if key := c.Query(cfg.KeyParam); key != "" && h.redeem(c, key) {
		h.render(c, "page", ViewSuccess)
		return
	}

	h.render(c, "page", ViewRequest)
}

// issue requests an entry link. Unknown emails are not reported, the
// response must not depend on whether the user exists.
func (h *Handler) issue(c *gin.Context, email string) {
	_, err := h.auth.Issue(c.Request.Context(), email)
	if err != nil && !errors.Is(err, passwordless.ErrUserNotFound) {
		h.log.Error("failed to issue entry key", zap.Error(err))
	}
}

// redeem redeems the entry key and tells if the user is logged in.
func (h *Handler) redeem(c *gin.Context, key string) bool {
	ctx := WithResponseWriter(c.Request.Context(), c.Writer)
	if _, err := h.auth.Redeem(ctx, key); err != nil {
		if !errors.Is(err, passwordless.ErrInvalidKey) {
			h.log.Error("failed to redeem entry key", zap.Error(err))
		}
		return false
	}
	return true
}

func (h *Handler) loggedIn(r *http.Request) bool {
	return h.cfg.LoggedIn != nil && h.cfg.LoggedIn(r)
}

func (h *Handler) render(c *gin.Context, entry, view string) {
	h.views.WithLabelValues(entry, view).Inc()

	cfg := h.auth.Config()
	c.Render(http.StatusOK, render.HTML{
		Template: h.cfg.Templates,
		Name:     view + ".html",
		Data: &ViewData{
			SiteName:        h.cfg.SiteName,
			SiteURL:         h.cfg.SiteURL,
			Action:          c.Request.URL.Path,
			EmailParam:      cfg.EmailParam,
			ControllerParam: cfg.ControllerParam,
		},
	})
}

// emailParam returns the email request parameter if it is a plain email
// address.
func emailParam(c *gin.Context, name string) (string, bool) {
	email := strings.TrimSpace(c.Request.FormValue(name))
	if email == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

// isTrue tells if a controller parameter value means true.
func isTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Sessions returns a SessionStarter for handlers that don't use
// CookieSessions: fn is called with the response writer of the request.
func Sessions(fn func(w http.ResponseWriter, userID string) error) passwordless.SessionStarter {
	return passwordless.SessionFunc(func(ctx context.Context, userID string) error {
		w, ok := responseWriter(ctx)
		if !ok {
			return ErrNoResponseWriter
		}
		return fn(w, userID)
	})
}
