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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/willholley/couchcopy/pkg/common"
)

// Log appends change rows to a JSON Lines file.
// Thread-safe with mutex protection; every append is synced to disk.
type Log struct {
	file  *os.File
	path  string
	mutex sync.Mutex
	seq   int64
}

// OpenLog opens or creates the change file at path for appending. Numbering
// continues after the highest numeric sequence already in the file.
func OpenLog(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600) // #nosec G304 -- path from configuration
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}

	l := &Log{file: file, path: path}
	err = scan(file, func(ev *common.ChangeEvent, _ int64) bool {
		if n, ok := ev.Seq.Int64(); ok && n > l.seq {
			l.seq = n
		}
		return true
	})
	if err != nil {
		_ = file.Close()
		return nil, &FileError{Op: "scan", Path: path, Err: err}
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, &FileError{Op: "seek", Path: path, Err: err}
	}
	return l, nil
}

// Append writes ev as one row. An empty Seq is assigned the next number.
// It returns the sequence written.
func (l *Log) Append(ev common.ChangeEvent) (common.Sequence, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if ev.ID == "" {
		return "", fmt.Errorf("append change: %w", &common.ValidationError{Field: "id", Message: "change id cannot be empty"})
	}

	if ev.Seq == "" {
		l.seq++
		ev.Seq = common.Sequence(strconv.FormatInt(l.seq, 10))
	} else if n, ok := ev.Seq.Int64(); ok && n > l.seq {
		l.seq = n
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal change: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return "", &FileError{Op: "write", Path: l.path, Err: err}
	}
	if err := l.file.Sync(); err != nil {
		return "", &FileError{Op: "sync", Path: l.path, Err: err}
	}
	return ev.Seq, nil
}

// Close closes the change file.
func (l *Log) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
