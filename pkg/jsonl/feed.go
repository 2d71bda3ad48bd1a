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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// DefaultFeedTimeout ends an idle continuous feed when no timeout is given.
const DefaultFeedTimeout = 60 * time.Second

type feed struct {
	path        string
	file        *os.File
	reader      *bufio.Reader
	partial     []byte
	offset      int64
	continuous  bool
	includeDocs bool
	timeout     time.Duration
	logger      adapters.Logger
	watcher     *fsnotify.Watcher

	done      chan struct{}
	closeOnce sync.Once
}

func openFeed(path string, offset int64, opts common.ChangesOptions, logger adapters.Logger) (*feed, error) {
	file, err := os.Open(path) // #nosec G304 -- path from configuration
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, &FileError{Op: "seek", Path: path, Err: err}
	}

	f := &feed{
		path:        path,
		file:        file,
		reader:      bufio.NewReader(file),
		offset:      offset,
		continuous:  opts.Continuous,
		includeDocs: opts.IncludeDocs,
		timeout:     opts.Timeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
	if f.timeout <= 0 {
		f.timeout = DefaultFeedTimeout
	}

	if f.continuous {
		f.watcher, err = watchFile(path)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return f, nil
}

// Next returns the next row. A normal feed ends with io.EOF at the end of the
// file; a continuous feed waits for appended rows and ends with
// common.ErrFeedDisconnected once the file has been idle for the timeout.
//
// A row that cannot be parsed fails the feed with ErrMalformedRow. The one
// exception is an unterminated last row of a normal feed, which may still be
// being written: the feed ends before it and a later run reads it again.
func (f *feed) Next(ctx context.Context) (*common.ChangeEvent, error) {
	for {
		select {
		case <-f.done:
			return nil, common.ErrFeedClosed
		default:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := f.reader.ReadBytes('\n')
		f.partial = append(f.partial, chunk...)
		if len(f.partial) > MaxLineSize {
			return nil, &FileError{Op: "read", Path: f.path, Err: ErrLineTooLong}
		}

		switch {
		case err == nil:
			line := f.partial
			f.partial = nil
			ev, decodeErr := f.decode(line)
			if decodeErr != nil {
				return nil, decodeErr
			}
			if ev != nil {
				return ev, nil
			}

		case err == io.EOF && !f.continuous:
			line := f.partial
			f.partial = nil
			ev, decodeErr := f.decode(line)
			if decodeErr != nil {
				f.logger.Warn(ctx, "Change file ends with an incomplete row",
					adapters.Field{Key: "path", Value: f.path},
					adapters.Field{Key: "offset", Value: f.offset - int64(len(line))})
				return nil, io.EOF
			}
			if ev != nil {
				return ev, nil
			}
			return nil, io.EOF

		case err == io.EOF:
			if err := f.wait(ctx); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: %w", common.ErrFeedDisconnected,
				&FileError{Op: "read", Path: f.path, Err: err})
		}
	}
}

// decode parses one row. It returns a nil event for rows that carry no change.
func (f *feed) decode(line []byte) (*common.ChangeEvent, error) {
	at := f.offset
	f.offset += int64(len(line))

	ev, ok, err := decodeLine(line)
	if err != nil {
		return nil, &FileError{Op: "decode", Path: f.path,
			Err: fmt.Errorf("%w at offset %d: %v", ErrMalformedRow, at, err)}
	}
	if !ok {
		return nil, nil
	}
	if !f.includeDocs {
		ev.Doc = nil
	}
	return ev, nil
}

// wait blocks until the file changes, the feed idles out or is closed.
func (f *feed) wait(ctx context.Context) error {
	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return f.watcherClosed()
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				return nil
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return fmt.Errorf("%w: change file removed", common.ErrFeedDisconnected)
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return f.watcherClosed()
			}
			f.logger.Warn(ctx, "Change file watcher error",
				adapters.Field{Key: "path", Value: f.path},
				adapters.ErrorField(err))

		case <-timer.C:
			return fmt.Errorf("%w: no changes for %s", common.ErrFeedDisconnected, f.timeout)

		case <-f.done:
			return common.ErrFeedClosed

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *feed) watcherClosed() error {
	select {
	case <-f.done:
		return common.ErrFeedClosed
	default:
		return fmt.Errorf("%w: watcher closed", common.ErrFeedDisconnected)
	}
}

// Close stops watching and closes the file.
func (f *feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.watcher != nil {
			if werr := f.watcher.Close(); werr != nil {
				f.logger.Error(context.Background(), "Error closing change file watcher",
					adapters.ErrorField(werr))
			}
		}
		err = f.file.Close()
	})
	return err
}
