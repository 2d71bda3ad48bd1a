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
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// WriterConfig contains the dependencies of a Writer.
type WriterConfig struct {
	Target  common.TargetStore
	Logger  adapters.Logger
	Metrics *Metrics

	// Limiter throttles bulk write calls; nil means unlimited
	Limiter *rate.Limiter

	// FetchWorkers bounds concurrent conflict re-fetches
	FetchWorkers int
}

// WriteResult summarizes how a batch was resolved.
type WriteResult struct {
	// Skipped is set for an empty batch; nothing was written
	Skipped bool

	// Inserted counts documents written by the first pass
	Inserted int

	// Updated counts conflicted documents rewritten by the update pass
	Updated int

	// Dropped counts tombstones whose target copy was already gone
	Dropped int

	// Conflicts counts conflicts reported by the first pass
	Conflicts int
}

// Writer applies batches to the target, resolving version conflicts with a
// single update pass that uses the target's current version stamps.
type Writer struct {
	target       common.TargetStore
	logger       adapters.Logger
	metrics      *Metrics
	limiter      *rate.Limiter
	fetchWorkers int
}

// NewWriter creates a writer for the configured target.
func NewWriter(config WriterConfig) (*Writer, error) {
	if config.Target == nil {
		return nil, fmt.Errorf("writer: %w", common.ErrNotConfigured)
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics()
	}
	if config.FetchWorkers <= 0 {
		config.FetchWorkers = 4
	}

	return &Writer{
		target:       config.Target,
		logger:       config.Logger,
		metrics:      config.Metrics,
		limiter:      config.Limiter,
		fetchWorkers: config.FetchWorkers,
	}, nil
}

// Write fully resolves batch against the target. A nil error means every op in
// the batch was either written or is a tombstone the target already agrees
// with, so the batch's sequence may be checkpointed.
func (w *Writer) Write(ctx context.Context, batch *Batch) (*WriteResult, error) {
	if batch.Len() == 0 {
		return &WriteResult{Skipped: true}, nil
	}

	start := time.Now()
	ops := coalesce(batch.Ops)
	result := &WriteResult{}

	for i := range ops {
		ops[i].Rev = ""
	}

	outcomes, err := w.bulkWrite(ctx, ops)
	if err != nil {
		return nil, err
	}

	var conflicted []int
	for i, outcome := range outcomes {
		switch outcome.Kind {
		case common.OutcomeSuccess:
			result.Inserted++
		case common.OutcomeConflict:
			conflicted = append(conflicted, i)
		default:
			return nil, unexpected("insert", ops[i], outcome)
		}
	}
	result.Conflicts = len(conflicted)

	if len(conflicted) > 0 {
		updates, dropped, err := w.resolveConflicts(ctx, ops, conflicted)
		if err != nil {
			return nil, err
		}
		result.Dropped = dropped

		if len(updates) > 0 {
			outcomes, err := w.bulkWrite(ctx, updates)
			if err != nil {
				return nil, err
			}
			for i, outcome := range outcomes {
				if outcome.Kind != common.OutcomeSuccess {
					return nil, unexpected("update", updates[i], outcome)
				}
				result.Updated++
			}
		}
	}

	w.metrics.RecordBatch(result, time.Since(start))
	w.logger.Debug(ctx, "Batch resolved",
		adapters.Field{Key: "inserted", Value: result.Inserted},
		adapters.Field{Key: "updated", Value: result.Updated},
		adapters.Field{Key: "dropped", Value: result.Dropped},
		adapters.Field{Key: "seq", Value: batch.LastSeq.String()})

	return result, nil
}

// resolveConflicts re-fetches the target copy of every conflicted op and
// returns the ops to resubmit with the current version stamp, in batch order.
func (w *Writer) resolveConflicts(ctx context.Context, ops []common.WriteOp, conflicted []int) ([]common.WriteOp, int, error) {
	items := make([]FetchItem, len(conflicted))
	for i, idx := range conflicted {
		items[i] = FetchItem{Index: idx, ID: ops[idx].ID}
	}

	fetched, err := FetchAll(ctx, w.target, items, w.fetchWorkers, w.logger)
	if err != nil {
		return nil, 0, fmt.Errorf("re-fetch conflicts: %w", err)
	}

	updates := make([]common.WriteOp, 0, len(fetched))
	dropped := 0
	for _, res := range fetched {
		op := ops[res.Index]

		if res.Err != nil {
			if !errors.Is(res.Err, common.ErrDocumentNotFound) {
				return nil, 0, &common.DocumentError{Op: "re-fetch", ID: op.ID, Doc: op.Body(), Err: res.Err}
			}
			if op.Deleted {
				w.logger.Debug(ctx, "Tombstone already applied on target",
					adapters.Field{Key: "id", Value: op.ID})
				dropped++
				continue
			}
			return nil, 0, &common.DocumentError{Op: "re-fetch", ID: op.ID, Doc: op.Body(), Err: common.ErrConflictTargetMissing}
		}

		op.Rev = res.Doc.Rev()
		updates = append(updates, op)
	}

	return updates, dropped, nil
}

func (w *Writer) bulkWrite(ctx context.Context, ops []common.WriteOp) ([]common.WriteOutcome, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	outcomes, err := w.target.BulkWrite(ctx, ops)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", common.ErrUnexpectedWrite, err)
	}

	if len(outcomes) != len(ops) {
		return nil, fmt.Errorf("%w: %d outcomes for %d documents", common.ErrOutcomeMismatch, len(outcomes), len(ops))
	}
	for i := range outcomes {
		if outcomes[i].ID != ops[i].ID {
			return nil, fmt.Errorf("%w: outcome %d is for %q, expected %q",
				common.ErrOutcomeMismatch, i, outcomes[i].ID, ops[i].ID)
		}
	}

	return outcomes, nil
}

func unexpected(op string, wop common.WriteOp, outcome common.WriteOutcome) error {
	err := common.ErrUnexpectedWrite
	if outcome.Reason != "" {
		err = fmt.Errorf("%w: %s: %s", common.ErrUnexpectedWrite, outcome.Kind, outcome.Reason)
	}
	return &common.DocumentError{Op: op, ID: wop.ID, Doc: wop.Body(), Err: err}
}

// coalesce collapses ops sharing an id into the last one, keeping the position
// of the first occurrence. A bulk request may not name an id twice.
func coalesce(ops []common.WriteOp) []common.WriteOp {
	out := make([]common.WriteOp, 0, len(ops))
	seen := make(map[string]int, len(ops))
	for _, op := range ops {
		if i, ok := seen[op.ID]; ok {
			out[i] = op
			continue
		}
		seen[op.ID] = len(out)
		out = append(out, op)
	}
	return out
}
