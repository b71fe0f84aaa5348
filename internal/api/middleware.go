// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/tramlinehq/buildkansen/internal/apperror"
	"github.com/tramlinehq/buildkansen/internal/logging"
	"github.com/tramlinehq/buildkansen/internal/metrics"
	"github.com/tramlinehq/buildkansen/internal/store"
)

// Session and context keys.
const (
	sessionUserKey           = "User ID"
	sessionThemeKey          = "theme"
	sessionOAuthStateKey     = "oauth_state"
	sessionInstallStateKey   = "install_state"
	sessionPendingInstallKey = "pending_installation"

	contextUserKey = "user"
)

// loadUser resolves the signed-in user from the session. Sessions pointing at
// a deleted user are cleared.
func (s *Server) loadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, ok := session.Get(sessionUserKey).(int64)
		if !ok {
			c.Next()
			return
		}

		user, err := s.deps.Accounts.FindUser(c.Request.Context(), id)
		if err != nil {
			if apperror.StatusCode(err) == http.StatusNotFound {
				session.Delete(sessionUserKey)
				_ = session.Save()
			} else {
				logging.WithRequest(c).Errorf("failed to load session user %d: %v", id, err)
			}
			c.Next()
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

// requireUser sends anonymous visitors back to the login page.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := currentUser(c); !ok {
			c.Redirect(http.StatusFound, "/")
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (store.User, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return store.User{}, false
	}
	user, ok := v.(store.User)
	return user, ok
}

// internalAuth guards the VM API with the configured bearer token.
func (s *Server) internalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is missing"})
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			return
		}

		if !s.cfg.InternalTokenMatches(strings.TrimSpace(header[len(prefix):])) {
			logging.WithRequest(c).Warnf("rejected internal API call from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Next()
	}
}

var errRateLimited = errors.New("rate limit exceeded")

// rateLimit rejects requests once the token bucket is empty.
func (s *Server) rateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			metrics.RateLimitedTotal.WithLabelValues(endpoint).Inc()
			_ = c.Error(errRateLimited)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": errRateLimited.Error()})
			return
		}
		c.Next()
	}
}
