// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tramlinehq/buildkansen/internal/buildinfo"
	"github.com/tramlinehq/buildkansen/internal/metrics"
	"github.com/tramlinehq/buildkansen/internal/store"
)

// HealthStatus is the /healthz response.
type HealthStatus struct {
	Status     string         `json:"status"` // "ok", "warning", "error"
	Version    string         `json:"version"`
	Database   string         `json:"database"`
	VMs        map[string]int `json:"vms,omitempty"`
	QueueDepth int            `json:"queue_depth"`
	Labels     []string       `json:"runner_labels"`
	Warnings   []string       `json:"warnings,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

const healthTimeout = 3 * time.Second

// handleHealth reports database reachability and the state of the VM pool.
// The response is 503 only when the database cannot be reached.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := &HealthStatus{
		Status:   "ok",
		Version:  buildinfo.Version,
		Database: "ok",
		Labels:   s.deps.Allowlist.Labels(),
	}
	if s.deps.QueueDepth != nil {
		status.QueueDepth = s.deps.QueueDepth()
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		status.Status = "error"
		status.Database = "unreachable"
		status.Errors = append(status.Errors, "database ping failed")
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}

	counts, err := s.vmCounts(ctx)
	if err != nil {
		status.Status = "warning"
		status.Warnings = append(status.Warnings, "failed to count VMs")
	} else {
		status.VMs = counts
		if counts[string(store.VMAvailable)]+counts[string(store.VMProcessing)] == 0 {
			status.Status = "warning"
			status.Warnings = append(status.Warnings, "no VMs registered")
		}
	}

	c.JSON(http.StatusOK, status)
}

// handleMetrics refreshes the pool gauges before serving the Prometheus registry.
func (s *Server) handleMetrics(c *gin.Context) {
	if counts, err := s.vmCounts(c.Request.Context()); err == nil {
		metrics.SetVMCounts(counts)
	}
	if s.deps.QueueDepth != nil {
		metrics.JobQueueDepth.Set(float64(s.deps.QueueDepth()))
	}
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) vmCounts(ctx context.Context) (map[string]int, error) {
	counts, err := s.deps.Store.CountVMs(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]int{
		string(store.VMAvailable):  0,
		string(store.VMProcessing): 0,
	}
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}
