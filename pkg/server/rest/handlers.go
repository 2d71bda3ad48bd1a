// Copyright (c) 2025 Will Holley
//
// This file is part of couchcopy.
//
// couchcopy is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact the copyright holder for commercial licensing options.

package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/willholley/couchcopy/pkg/cli"
	"github.com/willholley/couchcopy/pkg/replication"
	"github.com/willholley/couchcopy/pkg/server/middleware"
	"github.com/willholley/couchcopy/pkg/version"
)

// StatusProvider reports the state of a replication. *cli.Supervisor
// implements it.
type StatusProvider interface {
	Status() cli.Status
}

// Handler serves the status endpoints
type Handler struct {
	provider StatusProvider
}

// NewHandler creates a new Handler instance
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{
		provider: provider,
	}
}

// HealthCheck reports 200 while replication is working and 503 once a run
// has failed.
func (h *Handler) HealthCheck(c *gin.Context) {
	status := h.provider.Status()

	code, health := http.StatusOK, "healthy"
	if status.State == replication.StateFailed.String() {
		code, health = http.StatusServiceUnavailable, "unhealthy"
	}

	c.JSON(code, HealthResponse{
		Status:    health,
		State:     status.State,
		Version:   version.Get(),
		RequestID: middleware.GetRequestID(c),
	})
}

// GetStatus returns the run state, last result and cumulative metrics.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Version:   version.Get(),
		RequestID: middleware.GetRequestID(c),
		Status:    h.provider.Status(),
	})
}
