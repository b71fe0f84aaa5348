// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	// RequestIDKey is the log field and gin context key carrying the request id.
	RequestIDKey = "request_id"
	// RequestIDHeader is echoed back to clients and accepted from trusted proxies.
	RequestIDHeader = "X-Request-ID"
)

// RequestID returns the request id stored on the context by GinLogrusLogger.
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// WithRequest returns a log entry tagged with the request id.
func WithRequest(c *gin.Context) *log.Entry {
	return log.WithField(RequestIDKey, RequestID(c))
}

// GinLogrusLogger assigns a short request id and logs each request once it completes.
// GitHub delivery ids are reused when present so webhook logs can be matched with GitHub's UI.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = c.GetHeader("X-GitHub-Delivery")
		}
		if id == "" {
			id = uuid.NewString()
		}
		if len(id) > 8 {
			id = id[:8]
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			RequestIDKey: id,
			"status":     status,
			"latency":    time.Since(start).Round(time.Millisecond),
			"client":     c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		msg := c.Request.Method + " " + path
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(msg)
		case status >= http.StatusBadRequest:
			entry.Warn(msg)
		case path == "/healthz" || path == "/metrics":
			entry.Debug(msg)
		default:
			entry.Info(msg)
		}
	}
}

// GinLogrusRecovery turns panics into 500 responses and logs them.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		WithRequest(c).Errorf("panic recovered: %v", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
	})
}
