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
	"sync"
	"sync/atomic"
	"time"

	"github.com/willholley/couchcopy/pkg/common"
)

// Metrics tracks copy progress across runs.
// All fields use atomic operations for thread-safe updates.
type Metrics struct {
	// Counters
	runs      atomic.Int64
	batches   atomic.Int64
	docs      atomic.Int64
	inserted  atomic.Int64
	updated   atomic.Int64
	conflicts atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64

	// Timing
	lastWriteTime      atomic.Int64 // Unix timestamp in nanoseconds
	totalWriteDuration atomic.Int64 // Total duration in nanoseconds

	mu      sync.RWMutex
	lastSeq common.Sequence
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRun counts a started run.
func (m *Metrics) RecordRun() {
	m.runs.Add(1)
}

// RecordBatch records a batch that was fully written.
func (m *Metrics) RecordBatch(result *WriteResult, duration time.Duration) {
	m.batches.Add(1)
	m.docs.Add(int64(result.Inserted + result.Updated + result.Dropped))
	m.inserted.Add(int64(result.Inserted))
	m.updated.Add(int64(result.Updated))
	m.conflicts.Add(int64(result.Conflicts))
	m.dropped.Add(int64(result.Dropped))
	m.lastWriteTime.Store(time.Now().UnixNano())
	m.totalWriteDuration.Add(duration.Nanoseconds())
}

// RecordCheckpoint stores the most recently checkpointed sequence.
func (m *Metrics) RecordCheckpoint(seq common.Sequence) {
	m.mu.Lock()
	m.lastSeq = seq
	m.mu.Unlock()
}

// IncrementErrors increments the error counter.
func (m *Metrics) IncrementErrors(count int64) {
	m.errors.Add(count)
}

// LastSeq returns the most recently checkpointed sequence.
func (m *Metrics) LastSeq() common.Sequence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq
}

// GetAverageWriteDuration returns the average duration of a batch write.
func (m *Metrics) GetAverageWriteDuration() time.Duration {
	count := m.batches.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(m.totalWriteDuration.Load() / count)
}

// GetLastWriteTime returns the time of the last batch write.
func (m *Metrics) GetLastWriteTime() time.Time {
	nanos := m.lastWriteTime.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Runs:                 m.runs.Load(),
		Batches:              m.batches.Load(),
		Docs:                 m.docs.Load(),
		Inserted:             m.inserted.Load(),
		Updated:              m.updated.Load(),
		Conflicts:            m.conflicts.Load(),
		Dropped:              m.dropped.Load(),
		Errors:               m.errors.Load(),
		LastSeq:              m.LastSeq(),
		LastWriteTime:        m.GetLastWriteTime(),
		AverageWriteDuration: m.GetAverageWriteDuration(),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of copy metrics.
type MetricsSnapshot struct {
	Runs                 int64           `json:"runs"`
	Batches              int64           `json:"batches"`
	Docs                 int64           `json:"docs"`
	Inserted             int64           `json:"inserted"`
	Updated              int64           `json:"updated"`
	Conflicts            int64           `json:"conflicts"`
	Dropped              int64           `json:"dropped"`
	Errors               int64           `json:"errors"`
	LastSeq              common.Sequence `json:"last_seq"`
	LastWriteTime        time.Time       `json:"last_write_time"`
	AverageWriteDuration time.Duration   `json:"average_write_duration"`
}
