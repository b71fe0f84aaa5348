// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/tramlinehq/buildkansen/internal/apperror"
	"github.com/tramlinehq/buildkansen/internal/auth"
	"github.com/tramlinehq/buildkansen/internal/github"
	"github.com/tramlinehq/buildkansen/internal/logging"
	"github.com/tramlinehq/buildkansen/internal/metrics"
)

// handleGithubAuth starts the OAuth login.
func (s *Server) handleGithubAuth(c *gin.Context) {
	state, err := auth.NewState()
	if err != nil {
		abortWithError(c, apperror.Internal("Failed to start the GitHub login", err))
		return
	}

	session := sessions.Default(c)
	session.Set(sessionOAuthStateKey, state)
	if err = session.Save(); err != nil {
		abortWithError(c, apperror.Internal("Failed to start the GitHub login", err))
		return
	}
	c.Redirect(http.StatusFound, s.deps.Auth.AuthCodeURL(state))
}

// handleGithubAuthCallback finishes the login, stores the user and sends them
// on to install the GitHub App unless they already have.
func (s *Server) handleGithubAuthCallback(c *gin.Context) {
	session := sessions.Default(c)
	expected, _ := session.Get(sessionOAuthStateKey).(string)
	session.Delete(sessionOAuthStateKey)

	ghUser, err := s.deps.Auth.Complete(c.Request.Context(), expected, c.Query("state"), c.Query("code"))
	if err != nil {
		_ = session.Save()
		if errors.Is(err, auth.ErrStateMismatch) {
			abortWithError(c, apperror.New(http.StatusBadRequest, "Invalid login state, please try again", err))
			return
		}
		abortWithError(c, apperror.New(http.StatusBadGateway, "GitHub login failed", err))
		return
	}

	user, err := s.deps.Accounts.CreateOrUpdateUser(c.Request.Context(), ghUser)
	if err != nil {
		_ = session.Save()
		abortWithError(c, err)
		return
	}
	session.Set(sessionUserKey, user.ID)

	if pending, ok := session.Get(sessionPendingInstallKey).(int64); ok {
		session.Delete(sessionPendingInstallKey)
		_ = session.Save()
		s.finishInstallation(c, ghUser, user.ID, pending)
		return
	}

	if s.deps.Accounts.HasUserAlreadyInstalled(c.Request.Context(), user.ID) {
		_ = session.Save()
		c.Redirect(http.StatusFound, "/")
		return
	}

	state, err := auth.NewState()
	if err != nil {
		_ = session.Save()
		abortWithError(c, apperror.Internal("Failed to start the GitHub App installation", err))
		return
	}
	session.Set(sessionInstallStateKey, state)
	if err = session.Save(); err != nil {
		abortWithError(c, apperror.Internal("Failed to save the session", err))
		return
	}
	c.Redirect(http.StatusFound, auth.InstallationURL(s.cfg.GitHub.NewInstallationURL, s.cfg.GitHub.AppRedirectURL, state))
}

// handleGithubAppsCallback receives the installation GitHub redirected back
// with. The installation id is only a query parameter, so the user signs in
// again and the installation is saved once GitHub confirms they can access it.
func (s *Server) handleGithubAppsCallback(c *gin.Context) {
	installationID, err := strconv.ParseInt(c.Query("installation_id"), 10, 64)
	if err != nil || installationID <= 0 {
		abortWithError(c, apperror.New(http.StatusBadRequest, "Failed to parse installation id", err))
		return
	}

	session := sessions.Default(c)
	expected, _ := session.Get(sessionInstallStateKey).(string)
	if state := c.Query("state"); state != "" && state != expected {
		abortWithError(c, apperror.New(http.StatusBadRequest, "Invalid installation state", auth.ErrStateMismatch))
		return
	}
	session.Delete(sessionInstallStateKey)

	user, _ := currentUser(c)
	if s.deps.Accounts.HasInstallation(c.Request.Context(), user.ID, installationID) {
		_ = session.Save()
		c.Redirect(http.StatusFound, "/")
		return
	}

	state, err := auth.NewState()
	if err != nil {
		_ = session.Save()
		abortWithError(c, apperror.Internal("Failed to confirm the GitHub App installation", err))
		return
	}
	session.Set(sessionOAuthStateKey, state)
	session.Set(sessionPendingInstallKey, installationID)
	if err = session.Save(); err != nil {
		abortWithError(c, apperror.Internal("Failed to save the session", err))
		return
	}
	c.Redirect(http.StatusFound, s.deps.Auth.AuthCodeURL(state))
}

// finishInstallation saves a pending installation for the signed-in user.
func (s *Server) finishInstallation(c *gin.Context, ghUser auth.User, userID, installationID int64) {
	if !ghUser.CanAccessInstallation(installationID) {
		abortWithError(c, apperror.New(http.StatusForbidden, "This installation is not accessible to your GitHub account",
			fmt.Errorf("user %d cannot access installation %d", userID, installationID)))
		return
	}
	ctx := c.Request.Context()
	if !s.deps.Accounts.HasInstallation(ctx, userID, installationID) {
		if _, err := s.deps.Accounts.CreateInstallation(ctx, userID, installationID); err != nil {
			abortWithError(c, err)
			return
		}
	}
	c.Redirect(http.StatusFound, "/")
}

// handleWebhook receives GitHub App deliveries. Events other than workflow_job are acknowledged and dropped.
func (s *Server) handleWebhook(c *gin.Context) {
	ev, err := github.ParseJobEvent(c.Request, []byte(s.cfg.GitHub.WebhookSecret))
	if errors.Is(err, github.ErrUnhandledEvent) {
		logging.WithRequest(c).Debugf("ignoring webhook: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		metrics.RecordWebhook("unknown", "rejected")
		abortWithError(c, apperror.New(http.StatusBadRequest, "Invalid webhook payload", err))
		return
	}

	outcome, err := s.deps.Workflows.HandleJobEvent(c.Request.Context(), ev)
	if err != nil {
		metrics.RecordWebhook(ev.Action, "error")
		abortWithError(c, err)
		return
	}

	metrics.RecordWebhook(ev.Action, outcome)
	c.JSON(http.StatusOK, gin.H{"status": outcome})
}
