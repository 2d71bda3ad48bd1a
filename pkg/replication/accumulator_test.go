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

package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willholley/couchcopy/pkg/common"
)

func TestTranslateEvent(t *testing.T) {
	t.Run("deletion becomes a bare tombstone", func(t *testing.T) {
		op, err := TranslateEvent(remove("a"))
		require.NoError(t, err)
		assert.Equal(t, &common.WriteOp{ID: "a", Deleted: true}, op)
		assert.Equal(t, common.Document{"_id": "a", "_deleted": true}, op.Body())
	})

	t.Run("update strips the source rev", func(t *testing.T) {
		ev := create("a", "name", "alice")
		op, err := TranslateEvent(ev)
		require.NoError(t, err)
		assert.Equal(t, "a", op.ID)
		assert.False(t, op.Deleted)
		assert.Empty(t, op.Rev)
		assert.NotContains(t, op.Doc, "_rev")
		assert.Equal(t, "alice", op.Doc["name"])

		// The event itself is left untouched
		assert.Equal(t, "1-source", ev.Doc.Rev())
	})

	t.Run("missing body is skipped", func(t *testing.T) {
		op, err := TranslateEvent(&common.ChangeEvent{ID: "a", Seq: "1"})
		require.NoError(t, err)
		assert.Nil(t, op)
	})

	t.Run("attachments are rejected", func(t *testing.T) {
		ev := create("a", "_attachments", map[string]any{"f.txt": map[string]any{"data": "aGk="}})
		op, err := TranslateEvent(ev)
		assert.Nil(t, op)
		require.ErrorIs(t, err, common.ErrUnsupportedAttachment)

		var docErr *common.DocumentError
		require.ErrorAs(t, err, &docErr)
		assert.Equal(t, "a", docErr.ID)
		assert.Contains(t, err.Error(), `"_attachments"`)
	})
}

func TestNewAccumulator_InvalidSize(t *testing.T) {
	_, err := NewAccumulator(0)
	assert.ErrorIs(t, err, common.ErrInvalidBatchSize)

	_, err = NewAccumulator(-3)
	assert.ErrorIs(t, err, common.ErrInvalidBatchSize)
}

func TestAccumulator_YieldsFullBatches(t *testing.T) {
	acc, err := NewAccumulator(2)
	require.NoError(t, err)

	events := []*common.ChangeEvent{create("a"), create("b"), remove("a")}
	for i, ev := range events {
		ev.Seq = common.Sequence([]string{"1", "2", "3"}[i])
	}

	batch, err := acc.Add(events[0])
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, 1, acc.Pending())

	batch, err = acc.Add(events[1])
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, common.Sequence("2"), batch.LastSeq)
	assert.Equal(t, 0, acc.Pending())

	batch, err = acc.Add(events[2])
	require.NoError(t, err)
	assert.Nil(t, batch)

	final := acc.Flush()
	require.NotNil(t, final)
	assert.Equal(t, 1, final.Len())
	assert.True(t, final.Ops[0].Deleted)
	assert.Equal(t, common.Sequence("3"), final.LastSeq)

	assert.Nil(t, acc.Flush())
}

func TestAccumulator_SizeOne(t *testing.T) {
	acc, err := NewAccumulator(1)
	require.NoError(t, err)

	ev := create("a")
	ev.Seq = "7"
	batch, err := acc.Add(ev)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, common.Sequence("7"), batch.LastSeq)
	assert.Nil(t, acc.Flush())
}

func TestAccumulator_EmptyFlush(t *testing.T) {
	acc, err := NewAccumulator(10)
	require.NoError(t, err)

	var batch *Batch = acc.Flush()
	assert.Nil(t, batch)
	assert.Equal(t, 0, batch.Len())
}

func TestAccumulator_SkipsBodylessEvents(t *testing.T) {
	acc, err := NewAccumulator(2)
	require.NoError(t, err)

	batch, err := acc.Add(&common.ChangeEvent{ID: "x", Seq: "1"})
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, 0, acc.Pending())
}

func TestAccumulator_AttachmentKeepsPending(t *testing.T) {
	acc, err := NewAccumulator(3)
	require.NoError(t, err)

	ok := create("a")
	ok.Seq = "1"
	_, err = acc.Add(ok)
	require.NoError(t, err)

	bad := create("b", "_attachments", map[string]any{})
	bad.Seq = "2"
	batch, err := acc.Add(bad)
	assert.Nil(t, batch)
	assert.ErrorIs(t, err, common.ErrUnsupportedAttachment)

	// The rejected event never joins the batch
	assert.Equal(t, 1, acc.Pending())
}
