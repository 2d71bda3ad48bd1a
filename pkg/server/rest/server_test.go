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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willholley/couchcopy/pkg/cli"
	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/replication"
	"github.com/willholley/couchcopy/pkg/server/middleware"
	"github.com/willholley/couchcopy/pkg/version"
)

type fakeProvider struct {
	status cli.Status
}

func (f *fakeProvider) Status() cli.Status {
	return f.status
}

func newTestServer(t *testing.T, provider StatusProvider) *Server {
	t.Helper()
	config := DefaultServerConfig()
	config.Mode = gin.TestMode
	config.EnableRateLimit = false
	server, err := NewServer(provider, config)
	require.NoError(t, err)
	return server
}

func get(server *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNewServer_RequiresProvider(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.ErrorIs(t, err, ErrStatusProviderRequired)
}

func TestHealthCheck(t *testing.T) {
	provider := &fakeProvider{status: cli.Status{State: replication.StateStream.String()}}
	server := newTestServer(t, provider)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := get(server, path)
		require.Equal(t, http.StatusOK, w.Code, path)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "stream", resp.State)
		assert.Equal(t, version.Get(), resp.Version)
		assert.Equal(t, w.Header().Get(middleware.RequestIDHeader), resp.RequestID)
		assert.NotEmpty(t, resp.RequestID)
	}
}

func TestHealthCheck_Failed(t *testing.T) {
	provider := &fakeProvider{status: cli.Status{State: replication.StateFailed.String()}}
	server := newTestServer(t, provider)

	w := get(server, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestGetStatus(t *testing.T) {
	provider := &fakeProvider{status: cli.Status{
		State:   replication.StateEndClean.String(),
		Runs:    2,
		LastSeq: common.Sequence("12-abc"),
		LastResult: &replication.RunResult{
			RunID:    "run-1",
			StartSeq: "0",
			LastSeq:  "12-abc",
			Batches:  3,
			Docs:     12,
			EndState: replication.StateEndClean,
		},
		Metrics: replication.MetricsSnapshot{Runs: 2, Docs: 12, Inserted: 10, Updated: 2},
	}}
	server := newTestServer(t, provider)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(middleware.RequestIDHeader, "status-check-1")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, version.Get(), body["version"])
	assert.Equal(t, "status-check-1", body["request_id"])
	assert.Equal(t, "end_clean", body["state"])
	assert.Equal(t, float64(2), body["runs"])
	assert.Equal(t, "12-abc", body["last_seq"])

	last := body["last_result"].(map[string]any)
	assert.Equal(t, "run-1", last["run_id"])
	assert.Equal(t, "end_clean", last["end_state"])
	assert.Equal(t, float64(12), last["docs"])

	metrics := body["metrics"].(map[string]any)
	assert.Equal(t, float64(10), metrics["inserted"])
	assert.Equal(t, float64(2), metrics["updated"])
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(t, &fakeProvider{})

	w := get(server, "/objects")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Message, "/objects")
}

func TestErrorHandlingMiddleware(t *testing.T) {
	server := newTestServer(t, &fakeProvider{})
	server.Router().GET("/panic", func(c *gin.Context) { panic("boom") })

	w := get(server, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	server := newTestServer(t, &fakeProvider{status: cli.Status{State: "stream"}})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/health", listener.Addr()))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
	assert.NoError(t, <-done)
}
