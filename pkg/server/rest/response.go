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
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Version   string `json:"version,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusResponse wraps the supervisor status with the build version and the
// ID of the request that read it.
type StatusResponse struct {
	Version   string `json:"version"`
	RequestID string `json:"request_id,omitempty"`
	cli.Status
}

// RespondWithError sends a standard error response
func RespondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
