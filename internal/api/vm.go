// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/tramlinehq/buildkansen/internal/apperror"
)

const maxVMRequestBytes = 64 << 10

// handleBindVM registers a guest in the pool.
// Body: {"base_vm_name": "...", "github_runner_label": "...", "vm_ip_address": "..."}.
func (s *Server) handleBindVM(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxVMRequestBytes))
	if err != nil {
		abortWithError(c, apperror.New(http.StatusBadRequest, "Failed to read request body", err))
		return
	}
	if !gjson.ValidBytes(body) {
		abortWithError(c, apperror.New(http.StatusBadRequest, "Failed to parse request body", nil))
		return
	}

	fields := gjson.GetManyBytes(body, "base_vm_name", "github_runner_label", "vm_ip_address")
	vm, err := s.deps.Workflows.RegisterVM(c.Request.Context(), fields[0].String(), fields[1].String(), fields[2].String())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "id": vm.ID})
}
