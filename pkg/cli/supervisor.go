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

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/replication"
)

// SupervisorConfig contains the settings of a Supervisor.
type SupervisorConfig struct {
	Source      common.ChangeSource
	Target      common.TargetStore
	Replication replication.Config

	// Once stops after the first run instead of restarting
	Once bool

	// RestartInterval is the minimum time between run starts
	RestartInterval time.Duration

	// Output receives database metadata and run summaries
	Output io.Writer
	Format OutputFormat

	Logger adapters.Logger
}

// Status is a point-in-time view of a supervisor.
type Status struct {
	State      string                      `json:"state"`
	Runs       int64                       `json:"runs"`
	LastSeq    common.Sequence             `json:"last_seq"`
	LastResult *replication.RunResult      `json:"last_result,omitempty"`
	Metrics    replication.MetricsSnapshot `json:"metrics"`
}

// Supervisor repeats replication runs until one fails or the context ends.
// Every run resumes from the target checkpoint.
type Supervisor struct {
	config  SupervisorConfig
	runner  *replication.Runner
	limiter *rate.Limiter
	logger  adapters.Logger

	mu         sync.RWMutex
	runs       int64
	lastResult *replication.RunResult
}

// NewSupervisor creates a supervisor for the configured source and target.
func NewSupervisor(config SupervisorConfig) (*Supervisor, error) {
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	if config.Output == nil {
		config.Output = io.Discard
	}
	if config.Replication.Logger == nil {
		config.Replication.Logger = config.Logger
	}
	if config.Replication.Metrics == nil {
		config.Replication.Metrics = replication.NewMetrics()
	}

	runner, err := replication.NewRunner(config.Source, config.Target, config.Replication)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if config.RestartInterval > 0 {
		limit = rate.Every(config.RestartInterval)
	}

	return &Supervisor{
		config:  config,
		runner:  runner,
		limiter: rate.NewLimiter(limit, 1),
		logger:  config.Logger,
	}, nil
}

// Run prints metadata and runs replication, restarting after every clean or
// disconnected end. It returns nil when the context is cancelled or Once is
// set, and the run error when a run fails.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}

		if err := s.printMetadata(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		result, err := s.runner.Run(ctx)
		s.record(result)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		_, _ = fmt.Fprint(s.config.Output, FormatRunResult(result, s.config.Format))

		if s.config.Once {
			return nil
		}
		s.logger.Info(ctx, "Restarting replication",
			adapters.Field{Key: "last_seq", Value: result.LastSeq.String()},
			adapters.Field{Key: "end_state", Value: result.EndState.String()})
	}
}

func (s *Supervisor) printMetadata(ctx context.Context) error {
	for _, side := range []struct {
		label string
		db    common.Database
	}{
		{"Source", s.config.Source},
		{"Target", s.config.Target},
	} {
		info, err := side.db.Info(ctx)
		if err != nil {
			return fmt.Errorf("read %s metadata: %w", side.label, err)
		}
		_, _ = fmt.Fprint(s.config.Output, FormatDatabaseInfo(side.label, info, s.config.Format))
	}
	return nil
}

func (s *Supervisor) record(result *replication.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if result != nil {
		s.lastResult = result
	}
}

// Status returns the current run state and counters. It is safe to call from
// any goroutine.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := s.runner.Metrics()
	return Status{
		State:      s.runner.State().String(),
		Runs:       s.runs,
		LastSeq:    metrics.LastSeq(),
		LastResult: s.lastResult,
		Metrics:    metrics.Snapshot(),
	}
}
