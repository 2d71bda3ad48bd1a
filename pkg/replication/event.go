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

// Package replication implements one-way, resumable copying of documents from a
// change feed into a target store, writing every document as a new revision
// history and checkpointing after each fully resolved batch.
package replication

import (
	"github.com/willholley/couchcopy/pkg/common"
)

// TranslateEvent converts a change event into the write op to apply on the target.
//
// Deletions become tombstones carrying only the id. Creates and updates become
// upserts of the full body with the source version stamp removed, since the
// target keeps an independent revision history. It returns (nil, nil) for an
// event that has neither a body nor a deletion flag. A body with attachments is
// rejected with ErrUnsupportedAttachment.
func TranslateEvent(ev *common.ChangeEvent) (*common.WriteOp, error) {
	if ev.Deleted {
		return &common.WriteOp{ID: ev.ID, Deleted: true}, nil
	}

	if ev.Doc == nil {
		return nil, nil
	}

	if ev.Doc.HasAttachments() {
		return nil, &common.DocumentError{
			Op:  "accumulate",
			ID:  ev.ID,
			Doc: ev.Doc,
			Err: common.ErrUnsupportedAttachment,
		}
	}

	id := ev.Doc.ID()
	if id == "" {
		id = ev.ID
	}

	return &common.WriteOp{
		ID:  id,
		Doc: ev.Doc.WithoutRev(),
	}, nil
}
