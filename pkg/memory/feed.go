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

package memory

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/willholley/couchcopy/pkg/common"
)

// DefaultFeedTimeout ends an idle continuous feed when no timeout is given.
const DefaultFeedTimeout = 60 * time.Second

type feed struct {
	db          *Memory
	cursor      int64
	head        int64
	continuous  bool
	includeDocs bool
	timeout     time.Duration

	pending   []*common.ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Next returns the next change. A normal feed ends with io.EOF at the head
// seen when it was opened; a continuous feed waits for writes and ends with
// common.ErrFeedDisconnected after the idle timeout. Next must not be called
// concurrently.
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

		if len(f.pending) > 0 {
			ev := f.pending[0]
			f.pending = f.pending[1:]
			seq, _ := ev.Seq.Int64()
			f.cursor = seq
			return ev, nil
		}

		limit := f.head
		if f.continuous {
			limit = math.MaxInt64
		}

		f.db.mu.RLock()
		closed := f.db.closed
		events, notify := f.db.changesAfter(f.cursor, limit, f.includeDocs)
		f.db.mu.RUnlock()

		if closed {
			return nil, fmt.Errorf("%w: %w", common.ErrFeedDisconnected, common.ErrStoreClosed)
		}
		if len(events) > 0 {
			f.pending = events
			continue
		}
		if !f.continuous {
			return nil, io.EOF
		}

		timeout := f.timeout
		if timeout <= 0 {
			timeout = DefaultFeedTimeout
		}
		timer := time.NewTimer(timeout)
		select {
		case <-notify:
			timer.Stop()
		case <-timer.C:
			return nil, fmt.Errorf("%w: no changes for %s", common.ErrFeedDisconnected, timeout)
		case <-f.done:
			timer.Stop()
			return nil, common.ErrFeedClosed
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Close ends the feed. Subsequent calls to Next return common.ErrFeedClosed.
func (f *feed) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}
