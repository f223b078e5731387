package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	passwordless "github.com/jtclabs/passwordless-entry"
	"github.com/jtclabs/passwordless-entry/httpentry"
	"github.com/jtclabs/passwordless-entry/internal/config"
	"github.com/jtclabs/passwordless-entry/internal/logger"
	"github.com/jtclabs/passwordless-entry/internal/mailer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP server",
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(context.Background()); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	secret, err := sessionSecret(cfg, log)
	if err != nil {
		return err
	}
	sessions := httpentry.NewCookieSessions(secret, cfg.HTTP.SecureCookies)
	auth := passwordless.NewAuthenticator(b.store, b.users, sessions, sendEmail(cfg, log), cfg.AuthConfig(log))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(cfg, auth, sessions, reg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go auth.RunSweeper(ctx, cfg.Store.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shut down HTTP server", zap.Error(err))
	}
	auth.Wait()

	log.Info("server stopped")
	return nil
}

// newRouter returns the gin engine serving the login page on
// cfg.HTTP.LoginPath, the controller on all other routes and metrics on
// /metrics.
func newRouter(cfg *config.ServerConfig, auth *passwordless.Authenticator, sessions *httpentry.CookieSessions,
	reg *prometheus.Registry, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Gin(log.Named("http")))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	h := httpentry.New(auth, httpentry.Config{
		SiteName:   cfg.Site.Name,
		SiteURL:    cfg.Site.URL,
		LoggedIn:   sessions.LoggedIn,
		Registerer: reg,
		Logger:     log,
	})
	h.Register(r, cfg.HTTP.LoginPath)

	r.GET("/", func(c *gin.Context) {
		userID, ok := sessions.UserID(c.Request)
		if !ok {
			c.Redirect(http.StatusFound, cfg.HTTP.LoginPath)
			return
		}
		user, err := auth.Users().FindByID(c.Request.Context(), userID)
		if err != nil {
			c.String(http.StatusOK, "Welcome!")
			return
		}
		c.String(http.StatusOK, "Welcome, %s!", user.DisplayName())
	})

	return r
}

// sessionSecret returns the configured session secret, or a random one.
func sessionSecret(cfg *config.ServerConfig, log *zap.Logger) ([]byte, error) {
	if cfg.HTTP.SessionSecret != "" {
		return []byte(cfg.HTTP.SessionSecret), nil
	}

	log.Warn("http.session_secret not set, sessions are lost on restart")
	secret := make([]byte, config.MinSessionSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return secret, nil
}

func sendEmail(cfg *config.ServerConfig, log *zap.Logger) passwordless.SendEmailFunc {
	if cfg.SMTP.Addr == "" {
		log.Warn("smtp.addr not set, emails are written to the log")
		return mailer.Log(log)
	}
	s := &mailer.SMTP{
		Addr:     cfg.SMTP.Addr,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	return s.Send
}
