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

package client_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willholley/couchcopy/pkg/cli"
	"github.com/willholley/couchcopy/pkg/cli/client"
	"github.com/willholley/couchcopy/pkg/replication"
	"github.com/willholley/couchcopy/pkg/server/rest"
)

type staticStatus cli.Status

func (s staticStatus) Status() cli.Status {
	return cli.Status(s)
}

func startStatusServer(t *testing.T, status cli.Status) client.Client {
	t.Helper()
	config := rest.DefaultServerConfig()
	config.Mode = gin.TestMode
	config.EnableRateLimit = false
	server, err := rest.NewServer(staticStatus(status), config)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	c, err := client.NewClient(&client.Config{ServerURL: ts.Listener.Addr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_AgainstStatusServer(t *testing.T) {
	c := startStatusServer(t, cli.Status{
		State:   replication.StateStream.String(),
		Runs:    1,
		LastSeq: "7-abc",
		Metrics: replication.MetricsSnapshot{Runs: 1, Docs: 7, Inserted: 7},
	})

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stream", health.State)
	assert.NotEmpty(t, health.RequestID)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7-abc", status.LastSeq.String())
	assert.Equal(t, int64(7), status.Metrics.Docs)
	assert.NotEmpty(t, status.RequestID)
	assert.NotEqual(t, health.RequestID, status.RequestID)
}

func TestClient_AgainstFailedCopy(t *testing.T) {
	c := startStatusServer(t, cli.Status{State: replication.StateFailed.String()})

	health, err := c.Health(context.Background())
	require.ErrorIs(t, err, client.ErrServerNotServing)
	assert.Equal(t, "failed", health.State)
}
