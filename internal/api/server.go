// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api implements the HTTP surface of buildkansen: the dashboard, the
// GitHub login and App installation callbacks, the workflow_job webhook and the
// internal VM registration API.
package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tramlinehq/buildkansen/internal/apperror"
	"github.com/tramlinehq/buildkansen/internal/auth"
	"github.com/tramlinehq/buildkansen/internal/config"
	"github.com/tramlinehq/buildkansen/internal/core"
	"github.com/tramlinehq/buildkansen/internal/github"
	"github.com/tramlinehq/buildkansen/internal/logging"
	"github.com/tramlinehq/buildkansen/internal/store"
	"github.com/tramlinehq/buildkansen/internal/theme"
)

//go:embed views assets
var webFS embed.FS

// Views exposes the embedded templates so the stylesheet content globs can be checked against them.
func Views() fs.FS {
	return webFS
}

// Accounts is the account setup used by the dashboard and login handlers.
type Accounts interface {
	CreateOrUpdateUser(ctx context.Context, u auth.User) (store.User, error)
	FindUser(ctx context.Context, id int64) (store.User, error)
	CreateInstallation(ctx context.Context, userID, installationID int64) (store.Installation, error)
	HasInstallation(ctx context.Context, userID, installationID int64) bool
	HasUserAlreadyInstalled(ctx context.Context, userID int64) bool
	Dashboard(ctx context.Context, userID int64) (store.UserData, error)
	DestroyAccount(ctx context.Context, userID int64) error
}

// Workflows handles webhook deliveries and VM registration.
type Workflows interface {
	HandleJobEvent(ctx context.Context, ev *github.JobEvent) (string, error)
	RegisterVM(ctx context.Context, baseVMName, label, ipAddress string) (store.VM, error)
}

// Authenticator runs the GitHub OAuth login.
type Authenticator interface {
	AuthCodeURL(state string) string
	Complete(ctx context.Context, expectedState, state, code string) (auth.User, error)
}

// Store is the subset of persistence the operational endpoints need.
type Store interface {
	Ping(ctx context.Context) error
	CountVMs(ctx context.Context) (map[store.VMStatus]int, error)
}

// Dependencies are the services the server routes to.
type Dependencies struct {
	Accounts  Accounts
	Workflows Workflows
	Auth      Authenticator
	Store     Store
	Allowlist *core.Allowlist
	Theme     theme.Config
	// QueueDepth reports the number of pending jobs. Optional.
	QueueDepth func() int
}

// Responses smaller than this go out uncompressed.
const gzipMinSize = 256

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	cfg     *config.Config
	deps    Dependencies
	engine  *gin.Engine
	handler http.Handler
	server  *http.Server
	limiter *rate.Limiter
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Allowlist == nil {
		deps.Allowlist = core.NewAllowlist(cfg.Runners.Labels)
	}
	if len(deps.Theme.DaisyUI.Themes) == 0 {
		deps.Theme = theme.Default()
	}

	tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(webFS, "views/*.html")
	if err != nil {
		return nil, fmt.Errorf("api: failed to parse templates: %w", err)
	}
	assets, err := fs.Sub(webFS, "assets")
	if err != nil {
		return nil, fmt.Errorf("api: failed to open assets: %w", err)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.SetHTMLTemplate(tmpl)

	sessionStore := cookie.NewStore([]byte(cfg.Session.Secret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   cfg.UseTLS(),
		SameSite: http.SameSiteLaxMode,
	})

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		engine:  engine,
		limiter: rate.NewLimiter(rate.Limit(cfg.WebhookRateLimit.RPS), cfg.WebhookRateLimit.Burst),
	}
	if cfg.WebhookRateLimit.RPS <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	engine.StaticFS("/public/assets", http.FS(assets))
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", s.handleMetrics)

	engine.POST("/github/apps/hook", s.rateLimit("webhook"), s.handleWebhook)
	engine.PUT("/v1/api/internal/vm/bind", s.internalAuth(), s.handleBindVM)

	web := engine.Group("/", sessions.Sessions(cfg.Session.Name, sessionStore), s.loadUser())
	web.GET("/", s.handleHome)
	web.GET("/logout", s.handleLogout)
	web.POST("/theme", s.handleTheme)
	web.POST("/account/destroy", requireUser(), s.handleAccountDestroy)
	web.GET("/github/auth", s.handleGithubAuth)
	web.GET("/github/auth/register", s.handleGithubAuthCallback)
	web.GET("/github/apps/register", requireUser(), s.handleGithubAppsCallback)

	compress, err := gzhttp.NewWrapper(gzhttp.MinSize(gzipMinSize))
	if err != nil {
		return nil, fmt.Errorf("api: failed to build gzip wrapper: %w", err)
	}
	s.handler = compress(engine)

	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until Stop is called. Development serves TLS with the local certificates.
func (s *Server) Start() error {
	var err error
	if s.cfg.UseTLS() {
		log.Infof("server listening on https://%s", s.server.Addr)
		err = s.server.ListenAndServeTLS(s.cfg.TLS.Cert, s.cfg.TLS.Key)
	} else {
		log.Infof("server listening on http://%s", s.server.Addr)
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"inc": func(i int) int {
			return i + 1
		},
		"duration": formatDuration,
	}
}

// formatDuration renders durations the way the dashboard shows them: 1h2m3s, 45s, -.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

// abortWithError writes the AppError carried by err as JSON.
func abortWithError(c *gin.Context, err error) {
	code := apperror.StatusCode(err)
	if code >= http.StatusInternalServerError {
		logging.WithRequest(c).Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		logging.WithRequest(c).Warnf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{"error": apperror.Message(err)})
}
