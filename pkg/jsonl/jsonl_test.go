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

package jsonl

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

const sampleChanges = `{"seq":"1-g1","id":"a","changes":[{"rev":"1-x"}],"doc":{"_id":"a","_rev":"1-x","v":1}}
{"seq":"2-g1","id":"b","doc":{"_id":"b","_rev":"1-y"}},

{"seq":"3-g1","id":"a","deleted":true,"doc":{"_id":"a","_rev":"2-z","_deleted":true}}
{"last_seq":"3-g1","pending":0}
{"seq":4,"id":"c","doc":{"_id":"c"}}`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func drain(t *testing.T, feed common.ChangeFeed) []*common.ChangeEvent {
	t.Helper()
	var out []*common.ChangeEvent
	for {
		ev, err := feed.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, common.ErrPathNotSet)

	_, err = New(Config{Path: filepath.Join(t.TempDir(), "missing.jsonl")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	var fileErr *FileError
	assert.ErrorAs(t, err, &fileErr)
	assert.Equal(t, "open", fileErr.Op)

	_, err = New(Config{Path: t.TempDir()})
	assert.Error(t, err)
}

func TestChanges_ReadsAllRows(t *testing.T) {
	src, err := New(Config{Path: writeFile(t, sampleChanges)})
	require.NoError(t, err)

	feed, err := src.Changes(context.Background(), common.ChangesOptions{Since: common.ZeroSequence, IncludeDocs: true})
	require.NoError(t, err)
	defer feed.Close()

	events := drain(t, feed)
	require.Len(t, events, 4)

	assert.Equal(t, common.Sequence("1-g1"), events[0].Seq)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, float64(1), events[0].Doc["v"])

	assert.Equal(t, "b", events[1].ID)

	assert.True(t, events[2].Deleted)

	// Numeric sequences keep their decimal text; the final row has no newline
	assert.Equal(t, common.Sequence("4"), events[3].Seq)
	assert.Equal(t, "c", events[3].ID)
}

func TestChanges_WithoutDocs(t *testing.T) {
	src, err := New(Config{Path: writeFile(t, sampleChanges)})
	require.NoError(t, err)

	feed, err := src.Changes(context.Background(), common.ChangesOptions{})
	require.NoError(t, err)
	defer feed.Close()

	for _, ev := range drain(t, feed) {
		assert.Nil(t, ev.Doc)
	}
}

func TestChanges_ResumeAfterSequence(t *testing.T) {
	src, err := New(Config{Path: writeFile(t, sampleChanges)})
	require.NoError(t, err)

	feed, err := src.Changes(context.Background(), common.ChangesOptions{Since: "2-g1", IncludeDocs: true})
	require.NoError(t, err)
	defer feed.Close()

	events := drain(t, feed)
	require.Len(t, events, 2)
	assert.Equal(t, common.Sequence("3-g1"), events[0].Seq)
	assert.Equal(t, common.Sequence("4"), events[1].Seq)
}

func TestChanges_UnknownSequenceReplays(t *testing.T) {
	var buf bytes.Buffer
	logger := adapters.NewSlogLogger(&buf, adapters.InfoLevel)

	src, err := New(Config{Path: writeFile(t, sampleChanges), Logger: logger})
	require.NoError(t, err)

	feed, err := src.Changes(context.Background(), common.ChangesOptions{Since: "99-other"})
	require.NoError(t, err)
	defer feed.Close()

	assert.Len(t, drain(t, feed), 4)
	assert.Contains(t, buf.String(), "replaying from start")
}

const truncatedChanges = `{"seq":"1","id":"a","doc":{"_id":"a","v":1}}
{"seq":"2","id":"b","doc":{"_id":"b","v":2
{"seq":"3","id":"c","doc":{"_id":"c","v":3}}
`

func TestChanges_MalformedRowFails(t *testing.T) {
	src, err := New(Config{Path: writeFile(t, truncatedChanges)})
	require.NoError(t, err)

	feed, err := src.Changes(context.Background(), common.ChangesOptions{IncludeDocs: true})
	require.NoError(t, err)
	defer feed.Close()

	ev, err := feed.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", ev.ID)

	_, err = feed.Next(context.Background())
	assert.ErrorIs(t, err, ErrMalformedRow)
	assert.NotErrorIs(t, err, common.ErrFeedDisconnected)
	assert.NotErrorIs(t, err, io.EOF)

	var fileErr *FileError
	require.ErrorAs(t, err, &fileErr)
	assert.Equal(t, "decode", fileErr.Op)
	assert.Contains(t, err.Error(), "offset 45")
}

func TestChanges_MalformedRowInContinuousFeed(t *testing.T) {
	src, err := New(Config{Path: writeFile(t, "not json\n")})
	require.NoError(t, err)

	feed, err := src.Changes(context.Background(), common.ChangesOptions{Continuous: true, Timeout: time.Second})
	require.NoError(t, err)
	defer feed.Close()

	_, err = feed.Next(context.Background())
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestChanges_IncompleteLastRowEndsFeed(t *testing.T) {
	var buf bytes.Buffer
	logger := adapters.NewSlogLogger(&buf, adapters.InfoLevel)

	path := writeFile(t, `{"seq":"1","id":"a","doc":{"_id":"a"}}`+"\n"+`{"seq":"2","id":"b","doc":{"_id":`)
	src, err := New(Config{Path: path, Logger: logger})
	require.NoError(t, err)

	feed, err := src.Changes(context.Background(), common.ChangesOptions{IncludeDocs: true})
	require.NoError(t, err)
	defer feed.Close()

	events := drain(t, feed)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].ID)
	assert.Contains(t, buf.String(), "incomplete row")

	// Once the row is finished a resumed feed picks it up
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = file.WriteString(`"b"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	resumed, err := src.Changes(context.Background(), common.ChangesOptions{Since: "1", IncludeDocs: true})
	require.NoError(t, err)
	defer resumed.Close()

	events = drain(t, resumed)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].ID)
}

func TestInfo_MalformedRow(t *testing.T) {
	src, err := New(Config{Path: writeFile(t, truncatedChanges)})
	require.NoError(t, err)

	_, err = src.Info(context.Background())
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestInfo(t *testing.T) {
	path := writeFile(t, sampleChanges)
	src, err := New(Config{Path: path})
	require.NoError(t, err)

	info, err := src.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "orders", info.Name)
	assert.Equal(t, int64(2), info.DocCount)
	assert.Equal(t, int64(1), info.DocDelCount)
	assert.Equal(t, common.Sequence("4"), info.UpdateSeq)
	assert.Equal(t, int64(len(sampleChanges)), info.DiskSize)
	assert.Positive(t, info.ActiveSize)
}

func TestContinuousFeed_FollowsAppends(t *testing.T) {
	path := writeFile(t, "")
	src, err := New(Config{Path: path})
	require.NoError(t, err)

	log, err := OpenLog(path)
	require.NoError(t, err)
	defer log.Close()

	feed, err := src.Changes(context.Background(), common.ChangesOptions{
		Continuous:  true,
		IncludeDocs: true,
		Timeout:     500 * time.Millisecond,
	})
	require.NoError(t, err)
	defer feed.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = log.Append(common.ChangeEvent{ID: "late", Doc: common.Document{"_id": "late"}})
	}()

	ev, err := feed.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", ev.ID)
	assert.Equal(t, common.Sequence("1"), ev.Seq)

	_, err = feed.Next(context.Background())
	assert.ErrorIs(t, err, common.ErrFeedDisconnected)
}

func TestContinuousFeed_Close(t *testing.T) {
	path := writeFile(t, "")
	src, err := New(Config{Path: path})
	require.NoError(t, err)

	feed, err := src.Changes(context.Background(), common.ChangesOptions{Continuous: true, Timeout: time.Minute})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = feed.Close()
	}()

	_, err = feed.Next(context.Background())
	assert.ErrorIs(t, err, common.ErrFeedClosed)
}

func TestLog_AppendNumbering(t *testing.T) {
	path := writeFile(t, `{"seq":"7","id":"x"}`+"\n")

	log, err := OpenLog(path)
	require.NoError(t, err)

	seq, err := log.Append(common.ChangeEvent{ID: "a", Doc: common.Document{"_id": "a"}})
	require.NoError(t, err)
	assert.Equal(t, common.Sequence("8"), seq)

	seq, err = log.Append(common.ChangeEvent{ID: "b", Deleted: true})
	require.NoError(t, err)
	assert.Equal(t, common.Sequence("9"), seq)

	_, err = log.Append(common.ChangeEvent{})
	var verr *common.ValidationError
	assert.ErrorAs(t, err, &verr)
	require.NoError(t, log.Close())

	src, err := New(Config{Path: path})
	require.NoError(t, err)
	feed, err := src.Changes(context.Background(), common.ChangesOptions{Since: "7"})
	require.NoError(t, err)
	defer feed.Close()

	events := drain(t, feed)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
	assert.True(t, events[1].Deleted)
}
