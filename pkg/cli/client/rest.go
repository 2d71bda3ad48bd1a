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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/willholley/couchcopy/pkg/server/middleware"
)

// RESTClient implements the Client interface for the status server
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTClient creates a new REST client
func NewRESTClient(config *Config) (*RESTClient, error) {
	if config.ServerURL == "" {
		return nil, ErrServerURLRequired
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	baseURL := config.ServerURL
	if !strings.Contains(baseURL, "://") {
		scheme := "http"
		if config.Protocol == "https" {
			scheme = "https"
		}
		baseURL = scheme + "://" + baseURL
	}

	return &RESTClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Health checks the server health. The report is returned with
// ErrServerNotServing when the server answers 503.
func (c *RESTClient) Health(ctx context.Context) (*Health, error) {
	var health Health
	code, requestID, err := c.get(ctx, "/health", &health, http.StatusOK, http.StatusServiceUnavailable)
	if err != nil {
		return nil, err
	}
	if health.RequestID == "" {
		health.RequestID = requestID
	}
	if code == http.StatusServiceUnavailable || !health.Healthy() {
		return &health, fmt.Errorf("%w: state %s", ErrServerNotServing, health.State)
	}
	return &health, nil
}

// Status fetches the replication status
func (c *RESTClient) Status(ctx context.Context) (*Status, error) {
	var status Status
	_, requestID, err := c.get(ctx, "/status", &status, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if status.RequestID == "" {
		status.RequestID = requestID
	}
	return &status, nil
}

// get decodes the body of path into v when the response status is one of
// accept. It returns the status code and the request ID echoed by the server.
func (c *RESTClient) get(ctx context.Context, path string, v any, accept ...int) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(middleware.RequestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	requestID := resp.Header.Get(middleware.RequestIDHeader)
	if requestID == "" {
		requestID = req.Header.Get(middleware.RequestIDHeader)
	}

	accepted := false
	for _, code := range accept {
		accepted = accepted || resp.StatusCode == code
	}
	if !accepted {
		body, err := io.ReadAll(resp.Body)
		if err == nil && len(body) > 0 {
			return resp.StatusCode, requestID, fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return resp.StatusCode, requestID, fmt.Errorf("%w %d", ErrServerError, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return resp.StatusCode, requestID, ErrNoStatus
		}
		return resp.StatusCode, requestID, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, requestID, nil
}

// Close closes the client
func (c *RESTClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
