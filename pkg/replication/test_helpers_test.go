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
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/memory"
)

// scriptedSource replays a fixed list of events. Every event's Seq is its
// 1-based position. A positive disconnectAfter ends each feed with
// ErrFeedDisconnected after that many events.
type scriptedSource struct {
	events          []*common.ChangeEvent
	disconnectAfter int
	opened          []common.ChangesOptions
}

func newScriptedSource(events ...*common.ChangeEvent) *scriptedSource {
	for i, ev := range events {
		ev.Seq = common.Sequence(strconv.Itoa(i + 1))
	}
	return &scriptedSource{events: events}
}

func (s *scriptedSource) Info(ctx context.Context) (*common.DatabaseInfo, error) {
	return &common.DatabaseInfo{Name: "scripted"}, nil
}

func (s *scriptedSource) Close() error { return nil }

func (s *scriptedSource) Changes(ctx context.Context, opts common.ChangesOptions) (common.ChangeFeed, error) {
	s.opened = append(s.opened, opts)
	start := 0
	if !opts.Since.IsZero() {
		n, ok := opts.Since.Int64()
		if !ok {
			return nil, common.ErrInvalidSequence
		}
		start = int(n)
	}
	if start > len(s.events) {
		start = len(s.events)
	}
	return &scriptedFeed{events: s.events[start:], limit: s.disconnectAfter}, nil
}

type scriptedFeed struct {
	events []*common.ChangeEvent
	limit  int
	served int
}

func (f *scriptedFeed) Next(ctx context.Context) (*common.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.limit > 0 && f.served >= f.limit {
		return nil, common.ErrFeedDisconnected
	}
	if len(f.events) == 0 {
		return nil, io.EOF
	}
	ev := f.events[0]
	f.events = f.events[1:]
	f.served++
	return ev, nil
}

func (f *scriptedFeed) Close() error { return nil }

func create(id string, fields ...any) *common.ChangeEvent {
	doc := common.Document{common.FieldID: id, common.FieldRev: "1-source"}
	for i := 0; i+1 < len(fields); i += 2 {
		doc[fields[i].(string)] = fields[i+1]
	}
	return &common.ChangeEvent{ID: id, Doc: doc}
}

func remove(id string) *common.ChangeEvent {
	return &common.ChangeEvent{
		ID:      id,
		Deleted: true,
		Doc:     common.Document{common.FieldID: id, common.FieldRev: "2-source", common.FieldDeleted: true},
	}
}

// recordingTarget wraps a memory database, counts calls and lets tests
// inject failures or concurrent writers.
type recordingTarget struct {
	*memory.Memory

	mu          sync.Mutex
	bulkCalls   [][]common.WriteOp
	saves       []common.Sequence
	beforeBulk  func(call int, ops []common.WriteOp)
	bulkErr     func(call int) error
	outcomeHook func(call int, outcomes []common.WriteOutcome) []common.WriteOutcome
	onSave      func(cp *common.Checkpoint)
	fetchErr    error
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{Memory: memory.New("target")}
}

func (r *recordingTarget) BulkWrite(ctx context.Context, ops []common.WriteOp) ([]common.WriteOutcome, error) {
	r.mu.Lock()
	call := len(r.bulkCalls)
	r.bulkCalls = append(r.bulkCalls, append([]common.WriteOp(nil), ops...))
	r.mu.Unlock()

	if r.beforeBulk != nil {
		r.beforeBulk(call, ops)
	}
	if r.bulkErr != nil {
		if err := r.bulkErr(call); err != nil {
			return nil, err
		}
	}
	outcomes, err := r.Memory.BulkWrite(ctx, ops)
	if err != nil {
		return nil, err
	}
	if r.outcomeHook != nil {
		outcomes = r.outcomeHook(call, outcomes)
	}
	return outcomes, nil
}

func (r *recordingTarget) GetDocument(ctx context.Context, id string) (common.Document, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return r.Memory.GetDocument(ctx, id)
}

func (r *recordingTarget) SaveCheckpoint(ctx context.Context, cp *common.Checkpoint) error {
	if r.onSave != nil {
		r.onSave(cp)
	}
	if err := r.Memory.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	r.mu.Lock()
	r.saves = append(r.saves, cp.LastSeq)
	r.mu.Unlock()
	return nil
}

func (r *recordingTarget) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bulkCalls)
}

func (r *recordingTarget) checkpoint(t *testing.T) common.Sequence {
	t.Helper()
	cp, err := r.LoadCheckpoint(context.Background(), common.CheckpointID)
	require.NoError(t, err)
	return cp.LastSeq
}

// snapshot returns the live documents for ids without their revisions.
// Missing or deleted documents map to nil.
func snapshot(t *testing.T, target common.TargetStore, ids ...string) map[string]common.Document {
	t.Helper()
	out := make(map[string]common.Document, len(ids))
	for _, id := range ids {
		doc, err := target.GetDocument(context.Background(), id)
		if errors.Is(err, common.ErrDocumentNotFound) {
			out[id] = nil
			continue
		}
		require.NoError(t, err)
		out[id] = doc.WithoutRev()
	}
	return out
}

// expectedState folds events up to seq into the state a target should hold.
func expectedState(events []*common.ChangeEvent, seq int64) map[string]common.Document {
	out := make(map[string]common.Document)
	for _, ev := range events {
		n, _ := ev.Seq.Int64()
		if n > seq {
			break
		}
		if ev.Deleted {
			out[ev.ID] = nil
			continue
		}
		out[ev.ID] = ev.Doc.WithoutRev()
	}
	return out
}

func ids(events []*common.ChangeEvent) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range events {
		if !seen[ev.ID] {
			seen[ev.ID] = true
			out = append(out, ev.ID)
		}
	}
	return out
}
