// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/tramlinehq/buildkansen/internal/auth"
	"github.com/tramlinehq/buildkansen/internal/logging"
)

// handleHome renders the dashboard for signed-in users and the login page otherwise.
func (s *Server) handleHome(c *gin.Context) {
	page := gin.H{
		"theme":        s.themeFor(c),
		"themes":       s.deps.Theme.DaisyUI.Themes,
		"isProduction": s.cfg.IsProduction(),
	}

	user, ok := currentUser(c)
	if !ok {
		c.HTML(http.StatusOK, "login.html", page)
		return
	}

	data, err := s.deps.Accounts.Dashboard(c.Request.Context(), user.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	page["user"] = user
	page["installations"] = data.Installations
	page["repositories"] = data.Repositories
	page["runs"] = data.Runs
	page["runnerLabels"] = s.deps.Allowlist.Labels()
	page["installURL"] = auth.InstallationURL(s.cfg.GitHub.NewInstallationURL, s.cfg.GitHub.AppRedirectURL, "")
	c.HTML(http.StatusOK, "index.html", page)
}

func (s *Server) handleLogout(c *gin.Context) {
	session := sessions.Default(c)
	session.Delete(sessionUserKey)
	_ = session.Save()
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleAccountDestroy(c *gin.Context) {
	user, _ := currentUser(c)
	if err := s.deps.Accounts.DestroyAccount(c.Request.Context(), user.ID); err != nil {
		abortWithError(c, err)
		return
	}

	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	c.Redirect(http.StatusFound, "/")
}

// handleTheme stores the chosen daisyUI theme in the session.
func (s *Server) handleTheme(c *gin.Context) {
	name := c.PostForm("theme")
	if !s.deps.Theme.HasTheme(name) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Unknown theme " + name})
		return
	}

	session := sessions.Default(c)
	session.Set(sessionThemeKey, name)
	if err := session.Save(); err != nil {
		logging.WithRequest(c).Errorf("failed to save theme: %v", err)
	}
	c.Redirect(http.StatusFound, "/")
}

// themeFor returns the session theme if it is still configured, else the default.
func (s *Server) themeFor(c *gin.Context) string {
	if name, ok := sessions.Default(c).Get(sessionThemeKey).(string); ok && s.deps.Theme.HasTheme(name) {
		return name
	}
	return s.deps.Theme.DefaultTheme()
}
