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

package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// ErrPoolShuttingDown is returned by Submit after Shutdown has been called.
var ErrPoolShuttingDown = errors.New("fetch pool is shutting down")

// FetchItem asks the pool to read the current target copy of one document.
type FetchItem struct {
	// Index is the position of the conflicted op in its batch
	Index int
	ID    string
}

// FetchResult is the outcome of a single FetchItem.
type FetchResult struct {
	Index int
	ID    string
	Doc   common.Document
	Err   error
}

// FetchPool reads target documents concurrently while conflicts are resolved.
// Fetches are read-only, so their order does not matter; callers reassemble
// results by Index.
type FetchPool struct {
	workerCount int
	workQueue   chan FetchItem
	resultQueue chan FetchResult
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      adapters.Logger

	shuttingDown atomic.Bool

	fetched atomic.Int64
	failed  atomic.Int64
}

// FetchPoolConfig contains configuration for the fetch pool.
type FetchPoolConfig struct {
	WorkerCount int
	QueueSize   int
	Logger      adapters.Logger
}

// NewFetchPool creates a pool bound to ctx. Cancelling ctx stops all workers.
func NewFetchPool(ctx context.Context, config FetchPoolConfig) *FetchPool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(ctx)

	return &FetchPool{
		workerCount: config.WorkerCount,
		workQueue:   make(chan FetchItem, config.QueueSize),
		resultQueue: make(chan FetchResult, config.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      config.Logger,
	}
}

// Start launches the worker goroutines reading from target.
func (p *FetchPool) Start(target common.TargetStore) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, target)
	}
}

func (p *FetchPool) worker(id int, target common.TargetStore) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case item, ok := <-p.workQueue:
			if !ok {
				return
			}

			doc, err := target.GetDocument(p.ctx, item.ID)
			if err != nil {
				p.failed.Add(1)
				p.logger.Debug(p.ctx, "Fetch failed",
					adapters.Field{Key: "worker_id", Value: id},
					adapters.Field{Key: "id", Value: item.ID},
					adapters.ErrorField(err))
			} else {
				p.fetched.Add(1)
			}

			select {
			case p.resultQueue <- FetchResult{Index: item.Index, ID: item.ID, Doc: doc, Err: err}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit adds a fetch to the queue.
func (p *FetchPool) Submit(item FetchItem) error {
	if p.shuttingDown.Load() {
		return ErrPoolShuttingDown
	}

	select {
	case <-p.ctx.Done():
		return fmt.Errorf("fetch pool: %w", p.ctx.Err())
	case p.workQueue <- item:
		return nil
	}
}

// Results returns the result channel. It is closed by Shutdown.
func (p *FetchPool) Results() <-chan FetchResult {
	return p.resultQueue
}

// Shutdown stops accepting work, waits for queued fetches and closes Results.
func (p *FetchPool) Shutdown() {
	if !p.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	close(p.workQueue)
	p.wg.Wait()
	close(p.resultQueue)
	p.cancel()
}

// Stats returns the number of successful and failed fetches.
func (p *FetchPool) Stats() (fetched, failed int64) {
	return p.fetched.Load(), p.failed.Load()
}

// FetchAll reads every id with a pool of workers and returns the documents in
// the same order as items. Per-document errors are reported in each result.
func FetchAll(ctx context.Context, target common.TargetStore, items []FetchItem, workers int, logger adapters.Logger) ([]FetchResult, error) {
	results := make([]FetchResult, len(items))
	if len(items) == 0 {
		return results, nil
	}
	if workers > len(items) {
		workers = len(items)
	}

	pool := NewFetchPool(ctx, FetchPoolConfig{
		WorkerCount: workers,
		QueueSize:   len(items),
		Logger:      logger,
	})
	pool.Start(target)

	// The queue holds every item, so submission never blocks on results
	for _, item := range items {
		if err := pool.Submit(item); err != nil {
			pool.Shutdown()
			return nil, err
		}
	}
	go pool.Shutdown()

	slot := make(map[int]int, len(items))
	for i, item := range items {
		slot[item.Index] = i
	}

	received := 0
	for res := range pool.Results() {
		results[slot[res.Index]] = res
		received++
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if received != len(items) {
		return nil, fmt.Errorf("fetch pool returned %d of %d documents", received, len(items))
	}
	return results, nil
}
