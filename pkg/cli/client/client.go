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

// Package client queries the status server of a running couchcopy copy.
package client

import (
	"context"
	"time"

	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/replication"
)

// Client reads the health and status of a running copy.
type Client interface {
	// Health returns the health report. A copy whose last run failed is
	// reported together with ErrServerNotServing.
	Health(ctx context.Context) (*Health, error)

	// Status returns the run state, last result and cumulative metrics.
	Status(ctx context.Context) (*Status, error)

	Close() error
}

// Config holds client configuration
type Config struct {
	// ServerURL is the status server, e.g. http://127.0.0.1:8080. A bare
	// host:port is accepted.
	ServerURL string

	// Protocol is rest, http or https; empty means rest
	Protocol string

	// Timeout bounds each request; 0 means DefaultTimeout
	Timeout time.Duration
}

// DefaultTimeout bounds a status request.
const DefaultTimeout = 10 * time.Second

// Health is the body of GET /health.
type Health struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Version   string `json:"version,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Healthy reports whether the server considers the copy healthy.
func (h *Health) Healthy() bool {
	return h.Status == "healthy"
}

// Status is the body of GET /status.
type Status struct {
	Version    string                      `json:"version"`
	RequestID  string                      `json:"request_id,omitempty"`
	State      string                      `json:"state"`
	Runs       int64                       `json:"runs"`
	LastSeq    common.Sequence             `json:"last_seq"`
	LastResult *replication.RunResult      `json:"last_result,omitempty"`
	Metrics    replication.MetricsSnapshot `json:"metrics"`
}
