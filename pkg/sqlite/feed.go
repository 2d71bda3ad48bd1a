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

package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/willholley/couchcopy/pkg/common"
)

// DefaultFeedTimeout ends an idle continuous feed when no timeout is given.
const DefaultFeedTimeout = 60 * time.Second

// pageSize bounds the rows fetched per query.
const pageSize = 500

// Changes opens a feed of documents changed after opts.Since, one row per
// document at its latest revision.
func (s *Store) Changes(ctx context.Context, opts common.ChangesOptions) (common.ChangeFeed, error) {
	since := int64(0)
	if !opts.Since.IsZero() {
		n, ok := opts.Since.Int64()
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: %q", common.ErrInvalidSequence, opts.Since)
		}
		since = n
	}

	head := int64(math.MaxInt64)
	if !opts.Continuous {
		if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM documents`).Scan(&head); err != nil {
			return nil, fmt.Errorf("read update seq: %w", err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFeedTimeout
	}

	return &feed{
		store:       s,
		cursor:      since,
		head:        head,
		continuous:  opts.Continuous,
		includeDocs: opts.IncludeDocs,
		timeout:     timeout,
		done:        make(chan struct{}),
	}, nil
}

type feed struct {
	store       *Store
	cursor      int64
	head        int64
	continuous  bool
	includeDocs bool
	timeout     time.Duration

	pending   []*common.ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Next returns the next change. Next must not be called concurrently.
func (f *feed) Next(ctx context.Context) (*common.ChangeEvent, error) {
	idleSince := time.Now()
	for {
		select {
		case <-f.done:
			return nil, common.ErrFeedClosed
		default:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(f.pending) > 0 {
			ev := f.pending[0]
			f.pending = f.pending[1:]
			return ev, nil
		}

		events, err := f.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w", common.ErrFeedDisconnected, err)
		}
		if len(events) > 0 {
			f.pending = events
			continue
		}
		if !f.continuous {
			return nil, io.EOF
		}
		if time.Since(idleSince) >= f.timeout {
			return nil, fmt.Errorf("%w: no changes for %s", common.ErrFeedDisconnected, f.timeout)
		}

		timer := time.NewTimer(f.store.pollInterval)
		select {
		case <-timer.C:
		case <-f.done:
			timer.Stop()
			return nil, common.ErrFeedClosed
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (f *feed) fetch(ctx context.Context) ([]*common.ChangeEvent, error) {
	rows, err := f.store.db.QueryContext(ctx, `
		SELECT id, seq, deleted, rev, body FROM documents
		WHERE seq > ? AND seq <= ?
		ORDER BY seq
		LIMIT ?`, f.cursor, f.head, pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*common.ChangeEvent
	for rows.Next() {
		var (
			ev   common.ChangeEvent
			seq  int64
			rev  string
			body string
		)
		if err := rows.Scan(&ev.ID, &seq, &ev.Deleted, &rev, &body); err != nil {
			return nil, err
		}
		ev.Seq = formatSeq(seq)
		if f.includeDocs {
			if err := json.Unmarshal([]byte(body), &ev.Doc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", ev.ID, err)
			}
			ev.Doc[common.FieldRev] = rev
		}
		f.cursor = seq
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Close ends the feed.
func (f *feed) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}
