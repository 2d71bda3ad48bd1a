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
	"os"
	"strings"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/cli/client"
	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/factory"
	"github.com/willholley/couchcopy/pkg/replication"
	"github.com/willholley/couchcopy/pkg/version"
)

// CommandContext holds the context for executing commands.
type CommandContext struct {
	Config *Config
	Logger adapters.Logger

	// Output receives command results; logs go to the logger
	Output io.Writer

	opened []common.Database
}

// NewCommandContext creates a command context. Logs are written to logOut.
func NewCommandContext(cfg *Config, output, logOut io.Writer) (*CommandContext, error) {
	if output == nil {
		output = os.Stdout
	}
	if logOut == nil {
		logOut = os.Stderr
	}

	if err := validateCommon(cfg); err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		Config: cfg,
		Logger: logger,
		Output: output,
	}, nil
}

// Close closes every database opened through the context.
func (ctx *CommandContext) Close() error {
	var errs []error
	for i := len(ctx.opened) - 1; i >= 0; i-- {
		if err := ctx.opened[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ctx.opened = nil
	return errors.Join(errs...)
}

func (ctx *CommandContext) format() OutputFormat {
	return OutputFormat(ctx.Config.OutputFormat)
}

// OpenSource opens database on the configured source backend.
func (ctx *CommandContext) OpenSource(c context.Context, database string) (common.ChangeSource, error) {
	if err := ValidateSource(ctx.Config); err != nil {
		return nil, err
	}
	source, err := factory.NewSource(c, ctx.Config.SourceBackend, ctx.Config.SourceSettings(database), ctx.Logger)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", database, err)
	}
	ctx.opened = append(ctx.opened, source)
	return source, nil
}

// OpenTarget opens database on the configured target backend.
func (ctx *CommandContext) OpenTarget(c context.Context, database string) (common.TargetStore, error) {
	if err := ValidateTarget(ctx.Config); err != nil {
		return nil, err
	}
	target, err := factory.NewTarget(c, ctx.Config.TargetBackend, ctx.Config.TargetSettings(database), ctx.Logger)
	if err != nil {
		return nil, fmt.Errorf("open target %s: %w", database, err)
	}
	ctx.opened = append(ctx.opened, target)
	return target, nil
}

// NewCopySupervisor opens both databases and prepares the replication
// between them without starting it.
func (ctx *CommandContext) NewCopySupervisor(c context.Context, sourceDB, targetDB string) (*Supervisor, error) {
	source, err := ctx.OpenSource(c, sourceDB)
	if err != nil {
		return nil, err
	}
	target, err := ctx.OpenTarget(c, targetDB)
	if err != nil {
		return nil, err
	}

	ctx.Logger.Info(c, "Preparing replication",
		adapters.Field{Key: "source", Value: sourceDB},
		adapters.Field{Key: "target", Value: targetDB},
		adapters.Field{Key: "continuous", Value: !ctx.Config.Batch},
		adapters.Field{Key: "batch_size", Value: ctx.Config.BatchSize},
	)

	return NewSupervisor(SupervisorConfig{
		Source:          source,
		Target:          target,
		Replication:     ctx.Config.ReplicationConfig(ctx.Logger, replication.NewMetrics()),
		Once:            ctx.Config.Once,
		RestartInterval: ctx.Config.RestartInterval,
		Output:          ctx.Output,
		Format:          ctx.format(),
		Logger:          ctx.Logger,
	})
}

// CopyCommand replicates sourceDB into targetDB until a run fails, the
// context ends, or the first run finishes when Once is set.
func (ctx *CommandContext) CopyCommand(c context.Context, sourceDB, targetDB string) error {
	supervisor, err := ctx.NewCopySupervisor(c, sourceDB, targetDB)
	if err != nil {
		return err
	}
	return supervisor.Run(c)
}

// InfoCommand prints the metadata of database. It reads the target backend
// when target is set and the source backend otherwise.
func (ctx *CommandContext) InfoCommand(c context.Context, database string, target bool) error {
	var (
		db    common.Database
		label = "Source"
		err   error
	)
	if target {
		label = "Target"
		db, err = ctx.OpenTarget(c, database)
	} else {
		db, err = ctx.OpenSource(c, database)
	}
	if err != nil {
		return err
	}

	info, err := db.Info(c)
	if err != nil {
		return fmt.Errorf("read %s metadata: %w", database, err)
	}
	_, err = fmt.Fprint(ctx.Output, FormatDatabaseInfo(label, info, ctx.format()))
	return err
}

// CheckpointCommand prints the replication checkpoint stored on targetDB.
func (ctx *CommandContext) CheckpointCommand(c context.Context, targetDB string) error {
	target, err := ctx.OpenTarget(c, targetDB)
	if err != nil {
		return err
	}

	cp, err := target.LoadCheckpoint(c, common.CheckpointID)
	if errors.Is(err, common.ErrCheckpointNotFound) {
		cp, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint of %s: %w", targetDB, err)
	}
	_, err = fmt.Fprint(ctx.Output, FormatCheckpoint(targetDB, cp, ctx.format()))
	return err
}

// StatusCommand prints the health and status reported by the copy serving
// its status endpoints on addr. A copy whose last run failed is printed and
// then reported as client.ErrServerNotServing.
func (ctx *CommandContext) StatusCommand(c context.Context, addr string) error {
	if addr == "" {
		addr = ctx.Config.StatusAddr
	}
	if addr == "" {
		return client.ErrServerURLRequired
	}

	statusClient, err := client.NewClient(&client.Config{ServerURL: addr})
	if err != nil {
		return err
	}
	defer func() { _ = statusClient.Close() }()

	health, healthErr := statusClient.Health(c)
	if healthErr != nil && !errors.Is(healthErr, client.ErrServerNotServing) {
		return fmt.Errorf("query %s: %w", addr, healthErr)
	}
	status, err := statusClient.Status(c)
	if err != nil {
		return fmt.Errorf("query %s: %w", addr, err)
	}

	ctx.Logger.Debug(c, "Read copy status",
		adapters.Field{Key: "address", Value: addr},
		adapters.Field{Key: "health_request_id", Value: health.RequestID},
		adapters.Field{Key: "status_request_id", Value: status.RequestID})

	if _, err := fmt.Fprint(ctx.Output, FormatStatus(addr, health, status, ctx.format())); err != nil {
		return err
	}
	return healthErr
}

// ConfigCommand returns the effective configuration formatted for display.
func (ctx *CommandContext) ConfigCommand() string {
	return DisplayConfig(ctx.Config, ctx.Config.OutputFormat)
}

// BackendsCommand prints the registered source and target backends.
func (ctx *CommandContext) BackendsCommand() error {
	sources, targets := factory.SourceTypes(), factory.TargetTypes()

	var output string
	if ctx.format() == FormatJSON {
		output = formatJSON(map[string][]string{"sources": sources, "targets": targets})
	} else {
		output = fmt.Sprintf("Sources: %s\nTargets: %s\n", strings.Join(sources, ", "), strings.Join(targets, ", "))
	}
	_, err := fmt.Fprint(ctx.Output, output)
	return err
}

// VersionCommand returns the version string.
func VersionCommand() string {
	return fmt.Sprintf("couchcopy version %s\n", version.Get())
}
