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

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/memory"
	"github.com/willholley/couchcopy/pkg/replication"
)

func seed(t *testing.T, db *memory.Memory, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := db.Put(context.Background(), common.Document{"_id": fmt.Sprintf("doc-%03d", i), "n": i})
		require.NoError(t, err)
	}
}

func newSupervisor(t *testing.T, source, target *memory.Memory, once bool, out *bytes.Buffer) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(SupervisorConfig{
		Source:          source,
		Target:          target,
		Replication:     replication.Config{BatchSize: 4, FetchWorkers: 2, CheckpointID: common.CheckpointID},
		Once:            once,
		RestartInterval: 10 * time.Millisecond,
		Output:          out,
		Format:          FormatText,
	})
	require.NoError(t, err)
	return s
}

func TestSupervisor_Once(t *testing.T) {
	source, target := memory.New("source"), memory.New("target")
	seed(t, source, 10)

	var out bytes.Buffer
	s := newSupervisor(t, source, target, true, &out)
	require.NoError(t, s.Run(context.Background()))

	info, err := target.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.DocCount)

	cp, err := target.LoadCheckpoint(context.Background(), common.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, common.Sequence("10"), cp.LastSeq)

	text := out.String()
	assert.Contains(t, text, "Source: source\nDoc Count: 10\n")
	assert.Contains(t, text, "Target: target\nDoc Count: 0\n")
	assert.Contains(t, text, "10 docs in 3 batches, 0 -> 10")

	status := s.Status()
	assert.Equal(t, int64(1), status.Runs)
	assert.Equal(t, "end_clean", status.State)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, 10, status.LastResult.Docs)
	assert.Equal(t, common.Sequence("10"), status.LastSeq)
}

func TestSupervisor_RestartsUntilCancelled(t *testing.T) {
	source, target := memory.New("source"), memory.New("target")
	seed(t, source, 3)

	var out bytes.Buffer
	s := newSupervisor(t, source, target, false, &out)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	status := s.Status()
	assert.Greater(t, status.Runs, int64(1))
	assert.Equal(t, common.Sequence("3"), status.LastSeq)

	info, err := target.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.DocCount)
}

func TestSupervisor_StopsOnFailure(t *testing.T) {
	source, target := memory.New("source"), memory.New("target")
	_, err := source.Put(context.Background(), common.Document{
		"_id":          "with-attachment",
		"_attachments": map[string]any{"a.txt": map[string]any{"stub": true}},
	})
	require.NoError(t, err)

	s := newSupervisor(t, source, target, false, &bytes.Buffer{})
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrUnsupportedAttachment))

	status := s.Status()
	assert.Equal(t, int64(1), status.Runs)
	assert.Equal(t, "failed", status.State)
}

func TestSupervisor_MetadataError(t *testing.T) {
	source, target := memory.New("source"), memory.New("target")
	require.NoError(t, target.Close())

	s := newSupervisor(t, source, target, true, &bytes.Buffer{})
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, common.ErrStoreClosed)
	assert.Equal(t, int64(0), s.Status().Runs)
}

func TestSupervisor_CancelledBeforeStart(t *testing.T) {
	source, target := memory.New("source"), memory.New("target")
	s := newSupervisor(t, source, target, false, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
