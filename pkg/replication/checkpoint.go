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

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// Checkpointer persists the resume position of a target in its checkpoint record.
type Checkpointer struct {
	store  common.CheckpointStore
	id     string
	logger adapters.Logger
}

// NewCheckpointer creates a checkpointer for the record id in store.
// An empty id uses common.CheckpointID.
func NewCheckpointer(store common.CheckpointStore, id string, logger adapters.Logger) *Checkpointer {
	if id == "" {
		id = common.CheckpointID
	}
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &Checkpointer{store: store, id: id, logger: logger}
}

// Load returns the last checkpointed sequence. When no record exists one is
// created at common.ZeroSequence and found is false.
func (c *Checkpointer) Load(ctx context.Context) (seq common.Sequence, found bool, err error) {
	cp, found, err := c.loadOrCreate(ctx)
	if err != nil {
		return "", false, err
	}
	return cp.LastSeq, found, nil
}

// Advance records seq as the last fully applied position. It must only be
// called once the batch ending at seq has been resolved by the writer.
func (c *Checkpointer) Advance(ctx context.Context, seq common.Sequence) error {
	cp, _, err := c.loadOrCreate(ctx)
	if err != nil {
		return err
	}

	cp.LastSeq = seq
	cp.UpdatedAt = time.Now().UTC()

	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint %s at %s: %w", c.id, seq, err)
	}
	return nil
}

func (c *Checkpointer) loadOrCreate(ctx context.Context) (*common.Checkpoint, bool, error) {
	cp, err := c.store.LoadCheckpoint(ctx, c.id)
	if err == nil {
		return cp, true, nil
	}
	if !errors.Is(err, common.ErrCheckpointNotFound) {
		return nil, false, fmt.Errorf("load checkpoint %s: %w", c.id, err)
	}

	cp = &common.Checkpoint{
		ID:        c.id,
		LastSeq:   common.ZeroSequence,
		UpdatedAt: time.Now().UTC(),
	}
	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, false, fmt.Errorf("create checkpoint %s: %w", c.id, err)
	}

	c.logger.Debug(ctx, "Checkpoint created",
		adapters.Field{Key: "id", Value: c.id})
	return cp, false, nil
}
