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

package common

import (
	"context"
)

// Database is the common interface for every store backend.
type Database interface {
	// Info returns the database metadata.
	Info(ctx context.Context) (*DatabaseInfo, error)

	// Close releases connections and file handles.
	Close() error
}

// ChangeSource is a database that exposes a change feed.
type ChangeSource interface {
	Database

	// Changes opens a change feed positioned after opts.Since.
	Changes(ctx context.Context, opts ChangesOptions) (ChangeFeed, error)
}

// ChangeFeed is a lazy, resumable sequence of change events.
type ChangeFeed interface {
	// Next returns the next change. It returns io.EOF when a non-continuous
	// feed reached the head, and ErrFeedDisconnected when the feed closed
	// because of inactivity or a dropped connection.
	Next(ctx context.Context) (*ChangeEvent, error)

	// Close stops the feed and releases its connection.
	Close() error
}

// CheckpointStore persists the replication checkpoint.
type CheckpointStore interface {
	// LoadCheckpoint returns the checkpoint record, or ErrCheckpointNotFound.
	LoadCheckpoint(ctx context.Context, id string) (*Checkpoint, error)

	// SaveCheckpoint creates or overwrites the checkpoint record. cp.Rev must
	// match the stored revision; it is updated in place on success.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
}

// TargetStore is a database that accepts replicated writes.
type TargetStore interface {
	Database
	CheckpointStore

	// BulkWrite writes all ops and returns one outcome per op, in request order.
	// A returned error means the call itself failed and no outcome is known.
	BulkWrite(ctx context.Context, ops []WriteOp) ([]WriteOutcome, error)

	// GetDocument returns the current copy of a document, or ErrDocumentNotFound.
	GetDocument(ctx context.Context, id string) (Document, error)
}
