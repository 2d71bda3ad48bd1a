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

package couchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	kivik "github.com/go-kivik/kivik/v4"

	"github.com/willholley/couchcopy/pkg/common"
)

// Changes opens the _changes feed after opts.Since. A normal feed ends with
// io.EOF at the current head; a continuous feed ends with
// common.ErrFeedDisconnected when the server closes it, the connection drops
// or no change arrives for opts.Timeout.
func (c *Client) Changes(ctx context.Context, opts common.ChangesOptions) (common.ChangeFeed, error) {
	since := opts.Since
	if since == "" {
		since = common.ZeroSequence
	}
	params := map[string]any{"since": since.String()}
	if opts.IncludeDocs {
		params["include_docs"] = true
	}
	if opts.Continuous {
		params["feed"] = "continuous"
		if opts.Timeout > 0 {
			params["timeout"] = strconv.FormatInt(opts.Timeout.Milliseconds(), 10)
		}
	} else {
		params["feed"] = "normal"
	}

	feedCtx, cancel := context.WithCancel(ctx)
	rows := c.db.Changes(feedCtx, kivik.Params(params))
	if err := rows.Err(); err != nil {
		cancel()
		return nil, newResponseError("open changes "+c.database, err)
	}

	f := &feed{
		rows:        rows,
		continuous:  opts.Continuous,
		includeDocs: opts.IncludeDocs,
		cancel:      cancel,
		closed:      make(chan struct{}),
	}
	if opts.Continuous {
		f.idle = opts.Timeout
	}
	return f, nil
}

type feed struct {
	rows        *kivik.Changes
	continuous  bool
	includeDocs bool
	idle        time.Duration
	cancel      context.CancelFunc
	done        bool
	idled       atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Next returns the next change. Next must not be called concurrently.
func (f *feed) Next(ctx context.Context) (*common.ChangeEvent, error) {
	if f.isClosed() {
		return nil, common.ErrFeedClosed
	}
	if f.done {
		if f.continuous {
			return nil, common.ErrFeedDisconnected
		}
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A blocked read is released by tearing down the request
	stop := context.AfterFunc(ctx, f.cancel)
	defer stop()
	if f.idle > 0 {
		timer := time.AfterFunc(f.idle, func() {
			f.idled.Store(true)
			f.cancel()
		})
		defer timer.Stop()
	}

	for f.rows.Next() {
		id := f.rows.ID()
		if id == "" {
			continue
		}
		ev := &common.ChangeEvent{
			Seq:     common.Sequence(f.rows.Seq()),
			ID:      id,
			Deleted: f.rows.Deleted(),
		}
		if f.includeDocs {
			doc, err := f.scanDoc()
			if err != nil {
				f.done = true
				return nil, fmt.Errorf("decode change %s: %w", id, err)
			}
			ev.Doc = doc
		}
		return ev, nil
	}

	f.done = true
	err := f.rows.Err()
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case f.isClosed():
		return nil, common.ErrFeedClosed
	case f.idled.Load():
		return nil, fmt.Errorf("%w: no changes for %s", common.ErrFeedDisconnected, f.idle)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", common.ErrFeedDisconnected, err)
	case f.continuous:
		return nil, fmt.Errorf("%w: server ended feed", common.ErrFeedDisconnected)
	default:
		return nil, io.EOF
	}
}

// scanDoc returns the body of the current row, or nil when it carries none.
func (f *feed) scanDoc() (common.Document, error) {
	var raw json.RawMessage
	if err := f.rows.ScanDoc(&raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var doc common.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (f *feed) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Close aborts the request and releases the connection.
func (f *feed) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.cancel()
		f.closeErr = f.rows.Close()
	})
	return f.closeErr
}
