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
	"time"
)

// CheckpointID is the reserved identifier of the replication checkpoint record.
// Local documents are never replicated, so it cannot collide with user data.
const CheckpointID = "_local/couchcopy"

// ChangeEvent is a single entry of a change feed.
type ChangeEvent struct {
	// Seq is the feed position of this change
	Seq Sequence `json:"seq"`

	// ID is the identifier of the changed document
	ID string `json:"id"`

	// Deleted is set when the change removed the document
	Deleted bool `json:"deleted,omitempty"`

	// Doc is the full document body when the feed was opened with IncludeDocs
	Doc Document `json:"doc,omitempty"`
}

// WriteOp is a pending write of one document to the target.
type WriteOp struct {
	// ID is the document identifier
	ID string

	// Deleted marks the op as a tombstone; Doc is ignored
	Deleted bool

	// Doc is the document body for upserts, without a version stamp
	Doc Document

	// Rev is the target version stamp to overwrite; empty inserts a new document
	Rev string
}

// Body renders the op as the document payload sent to the store.
func (op WriteOp) Body() Document {
	var body Document
	if op.Deleted {
		body = Document{FieldID: op.ID, FieldDeleted: true}
	} else {
		body = op.Doc.WithoutRev()
		if body == nil {
			body = Document{}
		}
		body[FieldID] = op.ID
	}
	if op.Rev != "" {
		body[FieldRev] = op.Rev
	}
	return body
}

// OutcomeKind classifies the result of writing a single document.
type OutcomeKind int

const (
	// OutcomeSuccess means the document was written.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeConflict means the target already holds the document under a different version stamp.
	OutcomeConflict

	// OutcomeError means the write failed for any other reason.
	OutcomeError
)

// String returns the string representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeConflict:
		return "conflict"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// WriteOutcome is the per-document result of a bulk write.
type WriteOutcome struct {
	// ID is the document identifier
	ID string `json:"id"`

	// Kind is the classified result
	Kind OutcomeKind `json:"kind"`

	// Rev is the new version stamp on success
	Rev string `json:"rev,omitempty"`

	// Reason describes a conflict or error as reported by the store
	Reason string `json:"reason,omitempty"`
}

// Checkpoint is the persisted position of the last fully applied batch.
type Checkpoint struct {
	// ID is always CheckpointID
	ID string `json:"_id"`

	// Rev is the version stamp of the checkpoint record itself
	Rev string `json:"_rev,omitempty"`

	// LastSeq is the sequence of the last batch confirmed written
	LastSeq Sequence `json:"last_seq"`

	// UpdatedAt is when the checkpoint was last saved
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DatabaseInfo is the human-readable metadata of a database.
type DatabaseInfo struct {
	Name        string   `json:"db_name"`
	DocCount    int64    `json:"doc_count"`
	DocDelCount int64    `json:"doc_del_count"`
	ActiveSize  int64    `json:"active_size"`
	DiskSize    int64    `json:"disk_size"`
	UpdateSeq   Sequence `json:"update_seq,omitempty"`
}

// ChangesOptions specifies how a change feed is opened.
type ChangesOptions struct {
	// Since is the position to resume after; ZeroSequence starts from the beginning
	Since Sequence

	// Continuous keeps the feed open for new changes instead of ending at the current head
	Continuous bool

	// IncludeDocs requests full document bodies with each change
	IncludeDocs bool

	// Timeout ends a continuous feed after this much inactivity
	// 0 means use backend default
	Timeout time.Duration
}
