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

// Package memory provides an in-memory document database that can act as both
// change source and target. It follows the revision rules of a CouchDB
// database, which makes it useful for testing, development and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/willholley/couchcopy/pkg/common"
)

// record is the latest revision of a stored document.
type record struct {
	gen     int
	rev     string
	deleted bool
	body    common.Document
	seq     int64
}

// Memory is a document database held in memory.
type Memory struct {
	mu     sync.RWMutex
	name   string
	docs   map[string]*record
	local  map[string]*common.Checkpoint
	seq    int64
	notify chan struct{}
	closed bool
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Memory)
)

// New creates an empty, unregistered database.
func New(name string) *Memory {
	return &Memory{
		name:   name,
		docs:   make(map[string]*record),
		local:  make(map[string]*common.Checkpoint),
		notify: make(chan struct{}),
	}
}

// Open returns the process-wide database registered under name, creating it
// on first use. Source and target opened with the same name share state.
// Opening a closed database reopens it with its contents intact.
func Open(name string) *Memory {
	registryMu.Lock()
	defer registryMu.Unlock()

	if m, ok := registry[name]; ok {
		m.mu.Lock()
		m.closed = false
		m.mu.Unlock()
		return m
	}
	m := New(name)
	registry[name] = m
	return m
}

// Forget removes name from the registry.
func Forget(name string) {
	registryMu.Lock()
	delete(registry, name)
	registryMu.Unlock()
}

// Name returns the database name.
func (m *Memory) Name() string {
	return m.name
}

// Info returns document counts and approximate sizes.
func (m *Memory) Info(ctx context.Context) (*common.DatabaseInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, common.ErrStoreClosed
	}

	info := &common.DatabaseInfo{
		Name:      m.name,
		UpdateSeq: common.Sequence(strconv.FormatInt(m.seq, 10)),
	}
	for _, rec := range m.docs {
		size := bodySize(rec.body)
		info.DiskSize += size
		if rec.deleted {
			info.DocDelCount++
			continue
		}
		info.DocCount++
		info.ActiveSize += size
	}
	return info, nil
}

// Close marks the database closed. Registered databases stay registered.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Put writes a single document, honouring its _rev like a bulk write would.
// It returns the new revision.
func (m *Memory) Put(ctx context.Context, doc common.Document) (string, error) {
	op := common.WriteOp{ID: doc.ID(), Deleted: doc.Deleted(), Doc: doc.WithoutRev(), Rev: doc.Rev()}
	return m.writeOne(ctx, op)
}

// Delete writes a tombstone over revision rev of id.
func (m *Memory) Delete(ctx context.Context, id, rev string) (string, error) {
	return m.writeOne(ctx, common.WriteOp{ID: id, Deleted: true, Rev: rev})
}

func (m *Memory) writeOne(ctx context.Context, op common.WriteOp) (string, error) {
	outcomes, err := m.BulkWrite(ctx, []common.WriteOp{op})
	if err != nil {
		return "", err
	}
	switch outcomes[0].Kind {
	case common.OutcomeSuccess:
		return outcomes[0].Rev, nil
	case common.OutcomeConflict:
		return "", fmt.Errorf("put %s: %s", op.ID, outcomes[0].Reason)
	default:
		return "", fmt.Errorf("put %s: %w: %s", op.ID, common.ErrUnexpectedWrite, outcomes[0].Reason)
	}
}

// BulkWrite applies ops in order and reports one outcome per op.
// An op without Rev creates the document and conflicts if a live copy exists;
// an op with Rev must name the current revision.
func (m *Memory) BulkWrite(ctx context.Context, ops []common.WriteOp) ([]common.WriteOutcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, common.ErrStoreClosed
	}

	outcomes := make([]common.WriteOutcome, len(ops))
	written := false
	for i, op := range ops {
		outcomes[i] = m.apply(op)
		if outcomes[i].Kind == common.OutcomeSuccess {
			written = true
		}
	}

	if written {
		close(m.notify)
		m.notify = make(chan struct{})
	}
	return outcomes, nil
}

// apply must be called with the write lock held.
func (m *Memory) apply(op common.WriteOp) common.WriteOutcome {
	if err := common.ValidateDocumentID(op.ID); err != nil {
		return common.WriteOutcome{ID: op.ID, Kind: common.OutcomeError, Reason: err.Error()}
	}

	current, exists := m.docs[op.ID]
	var currentRev string
	deleted := false
	if exists {
		currentRev, deleted = current.rev, current.deleted
	}
	if common.IsRevisionConflict(exists, deleted, currentRev, op.Rev) {
		return common.WriteOutcome{ID: op.ID, Kind: common.OutcomeConflict, Reason: "Document update conflict."}
	}

	gen := 1
	if exists {
		gen = current.gen + 1
	}
	rev := common.NewRevision(gen)

	body := op.Body()
	delete(body, common.FieldRev)
	if op.Deleted {
		body = common.Document{common.FieldID: op.ID, common.FieldDeleted: true}
	}

	m.seq++
	m.docs[op.ID] = &record{
		gen:     gen,
		rev:     rev,
		deleted: op.Deleted,
		body:    body,
		seq:     m.seq,
	}
	return common.WriteOutcome{ID: op.ID, Kind: common.OutcomeSuccess, Rev: rev}
}

// GetDocument returns the current revision of id.
// Deleted documents are reported as common.ErrDocumentNotFound.
func (m *Memory) GetDocument(ctx context.Context, id string) (common.Document, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, common.ErrStoreClosed
	}

	rec, ok := m.docs[id]
	if !ok || rec.deleted {
		return nil, fmt.Errorf("%w: %s", common.ErrDocumentNotFound, id)
	}
	return rec.document(), nil
}

// LoadCheckpoint returns a copy of the local checkpoint record id.
func (m *Memory) LoadCheckpoint(ctx context.Context, id string) (*common.Checkpoint, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, common.ErrStoreClosed
	}

	cp, ok := m.local[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrCheckpointNotFound, id)
	}
	c := *cp
	return &c, nil
}

// SaveCheckpoint stores cp if its Rev matches the stored record and updates
// cp.Rev to the new revision.
func (m *Memory) SaveCheckpoint(ctx context.Context, cp *common.Checkpoint) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return common.ErrStoreClosed
	}

	gen := 0
	if current, ok := m.local[cp.ID]; ok {
		if current.Rev != cp.Rev {
			return fmt.Errorf("%w: %s", common.ErrCheckpointConflict, cp.ID)
		}
		gen = common.RevisionGeneration(current.Rev)
	} else if cp.Rev != "" {
		return fmt.Errorf("%w: %s", common.ErrCheckpointConflict, cp.ID)
	}

	cp.Rev = fmt.Sprintf("0-%d", gen+1)
	c := *cp
	m.local[cp.ID] = &c
	return nil
}

// Changes opens a feed of documents changed after opts.Since. Each document
// appears once, at the position of its latest revision.
func (m *Memory) Changes(ctx context.Context, opts common.ChangesOptions) (common.ChangeFeed, error) {
	since := int64(0)
	if !opts.Since.IsZero() {
		n, ok := opts.Since.Int64()
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: %q", common.ErrInvalidSequence, opts.Since)
		}
		since = n
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, common.ErrStoreClosed
	}

	return &feed{
		db:          m,
		cursor:      since,
		head:        m.seq,
		continuous:  opts.Continuous,
		includeDocs: opts.IncludeDocs,
		timeout:     opts.Timeout,
		done:        make(chan struct{}),
	}, nil
}

// changesAfter returns events after cursor up to limit, with the channel that
// is closed on the next write. It is called with the read lock held.
func (m *Memory) changesAfter(cursor, limit int64, includeDocs bool) ([]*common.ChangeEvent, <-chan struct{}) {
	var events []*common.ChangeEvent
	for id, rec := range m.docs {
		if rec.seq <= cursor || rec.seq > limit {
			continue
		}
		ev := &common.ChangeEvent{
			Seq:     common.Sequence(strconv.FormatInt(rec.seq, 10)),
			ID:      id,
			Deleted: rec.deleted,
		}
		if includeDocs {
			ev.Doc = rec.document()
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		a, _ := events[i].Seq.Int64()
		b, _ := events[j].Seq.Int64()
		return a < b
	})
	return events, m.notify
}

func (r *record) document() common.Document {
	doc := r.body.Clone()
	doc[common.FieldRev] = r.rev
	return doc
}

func bodySize(doc common.Document) int64 {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
