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

// Package jsonl reads change feeds from JSON Lines files, one change row per
// line in the shape of a CouchDB _changes response row. Files can be replayed
// from any sequence they contain and followed as they grow.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// MaxLineSize is the largest change row accepted.
const MaxLineSize = 16 * 1024 * 1024

// Config contains the settings of a change file source.
type Config struct {
	Path   string
	Logger adapters.Logger
}

// Source is a read-only change source backed by a JSON Lines file.
type Source struct {
	path   string
	logger adapters.Logger
}

// New creates a source reading the change file at config.Path.
func New(config Config) (*Source, error) {
	if config.Path == "" {
		return nil, common.ErrPathNotSet
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}

	path := filepath.Clean(config.Path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &FileError{Op: "open", Path: path, Err: errors.New("is a directory")}
	}

	return &Source{path: path, logger: config.Logger}, nil
}

// Info folds the file into the database it describes.
func (s *Source) Info(ctx context.Context) (*common.DatabaseInfo, error) {
	file, err := os.Open(s.path) // #nosec G304 -- path from configuration
	if err != nil {
		return nil, &FileError{Op: "open", Path: s.path, Err: err}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, &FileError{Op: "stat", Path: s.path, Err: err}
	}

	latest := make(map[string]*common.ChangeEvent)
	info := &common.DatabaseInfo{
		Name:      strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path)),
		DiskSize:  stat.Size(),
		UpdateSeq: common.ZeroSequence,
	}

	err = scan(file, func(ev *common.ChangeEvent, _ int64) bool {
		latest[ev.ID] = ev
		info.UpdateSeq = ev.Seq
		return ctx.Err() == nil
	})
	if err != nil {
		return nil, &FileError{Op: "scan", Path: s.path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, ev := range latest {
		if ev.Deleted {
			info.DocDelCount++
			continue
		}
		info.DocCount++
		if ev.Doc != nil {
			if data, err := json.Marshal(ev.Doc); err == nil {
				info.ActiveSize += int64(len(data))
			}
		}
	}
	return info, nil
}

// Close releases nothing; feeds own their file handles.
func (s *Source) Close() error {
	return nil
}

// Changes opens a feed of the rows after opts.Since. A sequence that does not
// appear in the file replays the whole file, which is safe because every
// write is an idempotent overwrite.
func (s *Source) Changes(ctx context.Context, opts common.ChangesOptions) (common.ChangeFeed, error) {
	offset := int64(0)
	if !opts.Since.IsZero() {
		var err error
		offset, err = s.offsetAfter(opts.Since)
		if errors.Is(err, ErrSequenceNotFound) {
			s.logger.Warn(ctx, "Resume sequence not in change file, replaying from start",
				adapters.Field{Key: "path", Value: s.path},
				adapters.Field{Key: "since", Value: opts.Since.String()})
			offset = 0
		} else if err != nil {
			return nil, err
		}
	}

	return openFeed(s.path, offset, opts, s.logger)
}

// offsetAfter returns the byte offset just past the row with sequence since.
func (s *Source) offsetAfter(since common.Sequence) (int64, error) {
	file, err := os.Open(s.path) // #nosec G304 -- path from configuration
	if err != nil {
		return 0, &FileError{Op: "open", Path: s.path, Err: err}
	}
	defer file.Close()

	found := int64(-1)
	err = scan(file, func(ev *common.ChangeEvent, end int64) bool {
		if ev.Seq == since {
			found = end
			return false
		}
		return true
	})
	if err != nil {
		return 0, &FileError{Op: "scan", Path: s.path, Err: err}
	}
	if found < 0 {
		return 0, fmt.Errorf("%w: %s", ErrSequenceNotFound, since)
	}
	return found, nil
}

// scan calls fn for every change row with the offset of the end of its line,
// until fn returns false. A malformed line fails the scan unless it is the
// unterminated last line of the file.
func scan(r io.Reader, fn func(ev *common.ChangeEvent, end int64) bool) error {
	reader := bufio.NewReader(r)
	offset := int64(0)
	for {
		line, err := reader.ReadBytes('\n')
		at := offset
		offset += int64(len(line))
		if len(line) > MaxLineSize {
			return ErrLineTooLong
		}
		if len(line) > 0 {
			ev, ok, decodeErr := decodeLine(line)
			if decodeErr != nil {
				if err == io.EOF {
					return nil
				}
				return fmt.Errorf("%w at offset %d: %v", ErrMalformedRow, at, decodeErr)
			}
			if ok && !fn(ev, offset) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// decodeLine parses one change row. Blank lines and rows without an id, such
// as a trailing last_seq summary, report ok=false.
func decodeLine(line []byte) (*common.ChangeEvent, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false, nil
	}
	// Rows copied from a non-continuous _changes body end with a comma
	line = bytes.TrimSuffix(line, []byte(","))

	var ev common.ChangeEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, false, err
	}
	if ev.ID == "" {
		return nil, false, nil
	}
	return &ev, true, nil
}

func watchFile(path string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &FileError{Op: "watch", Path: path, Err: err}
	}
	// Watch the directory so writes through a replaced file are still seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, &FileError{Op: "watch", Path: path, Err: err}
	}
	return watcher, nil
}
