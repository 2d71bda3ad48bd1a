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

package client

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigRequired is returned when client config is nil
	ErrConfigRequired = errors.New("client config is required")
	// ErrUnsupportedProtocol is returned when an unsupported protocol is specified
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	// ErrServerURLRequired is returned when server URL is missing
	ErrServerURLRequired = errors.New("server URL is required")
	// ErrServerNotServing is returned when the copy reports itself unhealthy
	ErrServerNotServing = errors.New("server not serving")
	// ErrNoStatus is returned when the server answers with an empty body
	ErrNoStatus = errors.New("no status returned")
	// ErrServerError is returned when server returns non-success status
	ErrServerError = errors.New("server returned error")
)

// NewClient creates a new client based on the protocol specified in the config
func NewClient(config *Config) (Client, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}

	switch config.Protocol {
	case "", "rest", "http", "https":
		return NewRESTClient(config)
	default:
		return nil, fmt.Errorf("%w: %s (supported: rest, http, https)", ErrUnsupportedProtocol, config.Protocol)
	}
}
