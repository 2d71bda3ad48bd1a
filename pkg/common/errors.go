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
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// Configuration errors

	// ErrNotConfigured is returned when a store backend is not properly configured.
	ErrNotConfigured = errors.New("not configured")

	// ErrURLNotSet is returned when the required server URL is not set.
	ErrURLNotSet = errors.New("url not set")

	// ErrDatabaseNotSet is returned when the required database name is not set.
	ErrDatabaseNotSet = errors.New("database not set")

	// ErrPathNotSet is returned when the required file path is not set.
	ErrPathNotSet = errors.New("path not set")

	// ErrInvalidBatchSize is returned when the batch size is not a positive integer.
	ErrInvalidBatchSize = errors.New("batch size must be greater than zero")

	// Store operation errors

	// ErrDocumentNotFound is returned when a document does not exist (or is deleted) on a store.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrCheckpointNotFound is returned when no checkpoint record exists on the target.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCheckpointConflict is returned when the checkpoint record was modified concurrently.
	ErrCheckpointConflict = errors.New("checkpoint revision conflict")

	// ErrStoreClosed is returned when an operation is attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrReadOnlyBackend is returned when a source-only backend is used as a target.
	ErrReadOnlyBackend = errors.New("backend does not support writes")

	// Change feed errors

	// ErrFeedDisconnected is returned by a change feed that ended because the
	// connection dropped or the source stayed inactive past the feed timeout.
	// It is a resumable condition, not a failure.
	ErrFeedDisconnected = errors.New("change feed disconnected")

	// ErrFeedClosed is returned when Next is called on a closed feed.
	ErrFeedClosed = errors.New("change feed closed")

	// ErrInvalidSequence is returned when a sequence token cannot be interpreted by a backend.
	ErrInvalidSequence = errors.New("invalid sequence")

	// Replication errors (fatal for a run)

	// ErrUnsupportedAttachment is returned when a source document carries attachments.
	ErrUnsupportedAttachment = errors.New("unsupported attachment")

	// ErrUnexpectedWrite is returned when a bulk write fails for a reason other than a conflict.
	ErrUnexpectedWrite = errors.New("unexpected write error")

	// ErrConflictTargetMissing is returned when a conflicting non-deletion write finds
	// no current copy of the document on the target.
	ErrConflictTargetMissing = errors.New("conflicting document missing from target")

	// ErrOutcomeMismatch is returned when a bulk write response does not line up with its request.
	ErrOutcomeMismatch = errors.New("bulk write response does not match request")
)

// DocumentError is a replication failure attributed to a single document.
// The offending document body is kept for diagnosis.
type DocumentError struct {
	Op  string
	ID  string
	Doc Document
	Err error
}

func (e *DocumentError) Error() string {
	if e.Doc == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	body, err := json.Marshal(e.Doc)
	if err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v:\n%s", e.Op, e.ID, e.Err, body)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}
