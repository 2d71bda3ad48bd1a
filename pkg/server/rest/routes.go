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
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all routes of the status server
func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.HealthCheck)
	router.GET("/status", handler.GetStatus)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handler.HealthCheck)
		v1.GET("/status", handler.GetStatus)
	}

	router.NoRoute(func(c *gin.Context) {
		RespondWithError(c, 404, "route not found: "+c.Request.URL.Path)
	})
}
