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
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// RunState is a step of a replication run.
type RunState int32

const (
	StateStart RunState = iota
	StateReadCheckpoint
	StateStream
	StateAccumulate
	StateWrite
	StateCheckpoint
	StateDrain
	StateEndClean
	StateEndDisconnected
	StateCancelled
	StateFailed
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateReadCheckpoint:
		return "read_checkpoint"
	case StateStream:
		return "stream"
	case StateAccumulate:
		return "accumulate"
	case StateWrite:
		return "write"
	case StateCheckpoint:
		return "checkpoint"
	case StateDrain:
		return "drain"
	case StateEndClean:
		return "end_clean"
	case StateEndDisconnected:
		return "end_disconnected"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *RunState) UnmarshalText(text []byte) error {
	for state := StateStart; state <= StateFailed; state++ {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", text)
}

// Terminal reports whether the run has finished.
func (s RunState) Terminal() bool {
	return s >= StateEndClean
}

// Config contains the settings of a replication run.
type Config struct {
	// BatchSize is the number of changes written per bulk request
	BatchSize int

	// Continuous follows the feed for new changes and writes each one immediately
	Continuous bool

	// FeedTimeout ends a continuous feed after this much inactivity
	FeedTimeout time.Duration

	// CheckpointID overrides the record used to store the resume position
	CheckpointID string

	// WriteRate caps bulk write requests per second; 0 is unlimited
	WriteRate float64

	// FetchWorkers bounds concurrent conflict re-fetches
	FetchWorkers int

	Logger  adapters.Logger
	Metrics *Metrics
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID    string          `json:"run_id"`
	StartSeq common.Sequence `json:"start_seq"`
	LastSeq  common.Sequence `json:"last_seq"`
	Batches  int             `json:"batches"`
	Docs     int             `json:"docs"`
	EndState RunState        `json:"end_state"`
	Duration time.Duration   `json:"duration_ns"`
}

// Runner drives replication runs from a source feed into a target.
// A Runner may be run repeatedly; each run resumes from the checkpoint.
type Runner struct {
	source       common.ChangeSource
	target       common.TargetStore
	config       Config
	writer       *Writer
	checkpointer *Checkpointer
	logger       adapters.Logger
	metrics      *Metrics
	state        atomic.Int32
}

// NewRunner creates a runner copying from source into target.
func NewRunner(source common.ChangeSource, target common.TargetStore, config Config) (*Runner, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("runner: %w", common.ErrNotConfigured)
	}
	if config.Continuous {
		config.BatchSize = 1
	}
	if config.BatchSize <= 0 {
		return nil, common.ErrInvalidBatchSize
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics()
	}

	var limiter *rate.Limiter
	if config.WriteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.WriteRate), 1)
	}

	writer, err := NewWriter(WriterConfig{
		Target:       target,
		Logger:       config.Logger,
		Metrics:      config.Metrics,
		Limiter:      limiter,
		FetchWorkers: config.FetchWorkers,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		source:       source,
		target:       target,
		config:       config,
		writer:       writer,
		checkpointer: NewCheckpointer(target, config.CheckpointID, config.Logger),
		logger:       config.Logger,
		metrics:      config.Metrics,
	}, nil
}

// State returns the current step of the active or last run.
func (r *Runner) State() RunState {
	return RunState(r.state.Load())
}

// Metrics returns the metrics shared by every run.
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

func (r *Runner) setState(s RunState) {
	r.state.Store(int32(s))
}

// Run performs one replication run. It returns a nil error when the feed is
// exhausted or disconnects; the caller restarts the run to resume. Any other
// error is fatal and nothing past the last resolved batch has been checkpointed.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	started := time.Now()
	result := &RunResult{RunID: uuid.NewString()}
	ctx = adapters.ContextWithFields(ctx, adapters.Field{Key: "run_id", Value: result.RunID})
	logger := r.logger

	r.setState(StateStart)
	r.metrics.RecordRun()

	finish := func(state RunState, err error) (*RunResult, error) {
		r.setState(state)
		result.EndState = state
		result.Duration = time.Since(started)
		if err != nil && state == StateFailed {
			r.metrics.IncrementErrors(1)
			logger.Error(ctx, "Run failed",
				adapters.Field{Key: "state", Value: state.String()},
				adapters.ErrorField(err))
		}
		return result, err
	}

	r.setState(StateReadCheckpoint)
	since, found, err := r.checkpointer.Load(ctx)
	if err != nil {
		return finish(r.failState(ctx), err)
	}
	if found {
		logger.Info(ctx, "Checkpoint found", adapters.Field{Key: "seq", Value: since.String()})
	} else {
		logger.Info(ctx, "No checkpoint found, starting from scratch")
	}
	result.StartSeq = since
	result.LastSeq = since

	r.setState(StateStream)
	feed, err := r.source.Changes(ctx, common.ChangesOptions{
		Since:       since,
		Continuous:  r.config.Continuous,
		IncludeDocs: true,
		Timeout:     r.config.FeedTimeout,
	})
	if err != nil {
		return finish(r.failState(ctx), fmt.Errorf("open change feed: %w", err))
	}
	defer feed.Close()

	acc, err := NewAccumulator(r.config.BatchSize)
	if err != nil {
		return finish(StateFailed, err)
	}

	end := StateEndClean
	for {
		ev, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, common.ErrFeedDisconnected) {
				logger.Info(ctx, "Change feed disconnected", adapters.Field{Key: "reason", Value: err.Error()})
				end = StateEndDisconnected
				break
			}
			return finish(r.failState(ctx), fmt.Errorf("read change feed: %w", err))
		}

		r.setState(StateAccumulate)
		if ev.Doc == nil && !ev.Deleted {
			logger.Debug(ctx, "Change skipped, no document body",
				adapters.Field{Key: "id", Value: ev.ID},
				adapters.Field{Key: "seq", Value: ev.Seq.String()})
			continue
		}

		batch, err := acc.Add(ev)
		if err != nil {
			return finish(StateFailed, err)
		}
		if batch == nil {
			continue
		}

		if err := r.apply(ctx, logger, batch, result); err != nil {
			return finish(r.failState(ctx), err)
		}
	}

	r.setState(StateDrain)
	if batch := acc.Flush(); batch != nil {
		if err := r.apply(ctx, logger, batch, result); err != nil {
			return finish(r.failState(ctx), err)
		}
	}

	logger.Info(ctx, "Run finished",
		adapters.Field{Key: "state", Value: end.String()},
		adapters.Field{Key: "batches", Value: result.Batches},
		adapters.Field{Key: "docs", Value: result.Docs},
		adapters.Field{Key: "seq", Value: result.LastSeq.String()})
	return finish(end, nil)
}

// apply writes a batch and, only once it is fully resolved, checkpoints it.
func (r *Runner) apply(ctx context.Context, logger adapters.Logger, batch *Batch, result *RunResult) error {
	r.setState(StateWrite)
	logger.Info(ctx, "Uploading batch",
		adapters.Field{Key: "count", Value: batch.Len()},
		adapters.Field{Key: "seq", Value: batch.LastSeq.String()})

	wr, err := r.writer.Write(ctx, batch)
	if err != nil {
		return err
	}
	if wr.Skipped {
		return nil
	}

	r.setState(StateCheckpoint)
	if err := r.checkpointer.Advance(ctx, batch.LastSeq); err != nil {
		return err
	}
	r.metrics.RecordCheckpoint(batch.LastSeq)

	result.Batches++
	result.Docs += wr.Inserted + wr.Updated + wr.Dropped
	result.LastSeq = batch.LastSeq
	return nil
}

func (r *Runner) failState(ctx context.Context) RunState {
	if ctx.Err() != nil {
		return StateCancelled
	}
	return StateFailed
}
