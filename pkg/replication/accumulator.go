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
	"github.com/willholley/couchcopy/pkg/common"
)

// Batch is an ordered group of pending writes and the feed position of the last
// change it contains.
type Batch struct {
	Ops     []common.WriteOp
	LastSeq common.Sequence
}

// Len returns the number of pending writes.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Ops)
}

// Accumulator buffers translated change events into batches of a fixed size.
// It is not safe for concurrent use.
type Accumulator struct {
	size    int
	pending *Batch
}

// NewAccumulator creates an accumulator that yields batches of size writes.
func NewAccumulator(size int) (*Accumulator, error) {
	if size <= 0 {
		return nil, common.ErrInvalidBatchSize
	}
	return &Accumulator{
		size:    size,
		pending: &Batch{Ops: make([]common.WriteOp, 0, size)},
	}, nil
}

// Add appends the write for ev to the in-flight batch. When the batch reaches
// the configured size it is returned and a new empty batch is started;
// otherwise Add returns nil.
//
// An event carrying attachments fails the whole run: the in-flight batch is
// left unflushed so nothing after the previous checkpoint is confirmed.
func (a *Accumulator) Add(ev *common.ChangeEvent) (*Batch, error) {
	op, err := TranslateEvent(ev)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, nil
	}

	a.pending.Ops = append(a.pending.Ops, *op)
	a.pending.LastSeq = ev.Seq

	if len(a.pending.Ops) < a.size {
		return nil, nil
	}

	full := a.pending
	a.pending = &Batch{Ops: make([]common.WriteOp, 0, a.size)}
	return full, nil
}

// Flush returns the partially filled batch, or nil when nothing is pending.
func (a *Accumulator) Flush() *Batch {
	if len(a.pending.Ops) == 0 {
		return nil
	}
	partial := a.pending
	a.pending = &Batch{Ops: make([]common.WriteOp, 0, a.size)}
	return partial
}

// Pending returns the number of buffered writes not yet yielded.
func (a *Accumulator) Pending() int {
	return len(a.pending.Ops)
}
