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
	"errors"
	"fmt"
)

var (
	// ErrSequenceNotFound is returned when a resume sequence does not appear in the file.
	ErrSequenceNotFound = errors.New("sequence not found in change file")

	// ErrLineTooLong is returned when a change line exceeds MaxLineSize.
	ErrLineTooLong = errors.New("change line too long")

	// ErrMalformedRow is returned when a complete change line is not a valid row.
	ErrMalformedRow = errors.New("malformed change row")
)

// FileError represents an error reading or watching a change file.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("jsonl %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
