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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/cli"
	"github.com/willholley/couchcopy/pkg/server/rest"
)

var (
	cfgFile      string
	viperConfig  *viper.Viper
	globalConfig *cli.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		format := cli.FormatText
		if globalConfig != nil {
			format = cli.OutputFormat(globalConfig.OutputFormat)
		}
		fmt.Fprint(os.Stderr, cli.FormatError(err, format))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "couchcopy",
	Short: "Resumable one-way replication between document databases",
	Long: `couchcopy copies every document of a source database into a target database
by following the source change feed. Source documents are written as new
revisions on the target; the position reached is checkpointed on the target
in _local/couchcopy so an interrupted copy resumes where it stopped.

Backends:
  - couchdb : CouchDB or Cloudant over HTTP (source and target)
  - sqlite  : SQLite database file (source and target)
  - memory  : in-process database, for testing (source and target)
  - jsonl   : JSON Lines change file (source only)

Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (COUCHCOPY_*)
  - Configuration file (~/.couchcopy.yaml or ./.couchcopy.yaml)
  - Default values (lowest priority)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		viperConfig, err = cli.InitConfig(cfgFile)
		if err != nil {
			return err
		}

		if err := viperConfig.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}

		globalConfig = cli.GetConfig(viperConfig)
		return nil
	},
}

// withContext runs fn with a command context that is closed afterwards.
func withContext(fn func(ctx *cli.CommandContext) error) error {
	ctx, err := cli.NewCommandContext(globalConfig, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = ctx.Close() }()
	return fn(ctx)
}

var copyCmd = &cobra.Command{
	Use:   "copy <source> <target>",
	Short: "Replicate a source database into a target database",
	Long: `Replicate all changes of the source database into the target database.
With --batch (the default) changes are written in batches of --batchsize and
a run ends when the feed reaches the current head. With --batch=false the feed
is followed continuously and every change is written as it arrives.

Runs restart automatically and resume from the checkpoint until one fails or
the process is interrupted. Use --once to stop after the first run.`,
	Example: `  couchcopy copy animals animals-copy --host https://account.cloudant.com
  couchcopy copy animals animals-copy --batch=false --status-addr 127.0.0.1:8080
  couchcopy copy changes.jsonl copy.db --source-backend jsonl --target-backend sqlite --once`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withContext(func(cmdCtx *cli.CommandContext) error {
			supervisor, err := cmdCtx.NewCopySupervisor(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			if globalConfig.StatusAddr != "" {
				shutdown, err := startStatusServer(cmdCtx.Logger, supervisor)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			return supervisor.Run(ctx)
		})
	},
}

func startStatusServer(logger adapters.Logger, supervisor *cli.Supervisor) (func(), error) {
	config := rest.DefaultServerConfig()
	config.Addr = globalConfig.StatusAddr
	config.Logger = logger

	server, err := rest.NewServer(supervisor, config)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error(context.Background(), "Status server failed",
				adapters.Field{Key: "address", Value: server.Address()},
				adapters.ErrorField(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

var infoCmd = &cobra.Command{
	Use:   "info <database>",
	Short: "Show database metadata",
	Long:  `Show the document counts and sizes of a database on the source backend, or on the target backend with --target.`,
	Example: `  couchcopy info animals --host http://localhost:5984
  couchcopy info copy.db --target --target-backend sqlite -o table`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetBool("target") //nolint:errcheck // flags are validated by cobra
		return withContext(func(ctx *cli.CommandContext) error {
			return ctx.InfoCommand(cmd.Context(), args[0], target)
		})
	},
}

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint <target>",
	Short:   "Show the replication checkpoint stored on a target",
	Example: `  couchcopy checkpoint animals-copy --host http://localhost:5984 -o json`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContext(func(ctx *cli.CommandContext) error {
			return ctx.CheckpointCommand(cmd.Context(), args[0])
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health and status of a running copy",
	Long: `Query the /health and /status endpoints of a copy started with
--status-addr. The command exits non-zero when the copy reports itself
unhealthy.`,
	Example: `  couchcopy status --addr 127.0.0.1:8080
  couchcopy status --addr http://replicator.local:8080 -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr") //nolint:errcheck // flags are validated by cobra
		return withContext(func(ctx *cli.CommandContext) error {
			return ctx.StatusCommand(cmd.Context(), addr)
		})
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the available source and target backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContext(func(ctx *cli.CommandContext) error {
			return ctx.BackendsCommand()
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContext(func(ctx *cli.CommandContext) error {
			fmt.Print(ctx.ConfigCommand())
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(cli.VersionCommand())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.couchcopy.yaml)")
	flags.String("host", "", "server URL shared by source and target, e.g. https://account.cloudant.com")
	flags.String("username", "", "username for couchdb backends")
	flags.String("password", "", "password for couchdb backends")
	flags.String("source-backend", cli.BackendCouchDB, "source backend (couchdb, sqlite, memory, jsonl)")
	flags.String("target-backend", cli.BackendCouchDB, "target backend (couchdb, sqlite, memory)")
	flags.String("source-url", "", "server URL of the source, overrides --host")
	flags.String("target-url", "", "server URL of the target, overrides --host")
	flags.String("source-path", "", "directory of source database files")
	flags.String("target-path", "", "directory of target database files")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", cli.LogFormatJSON, "log format (json, zerolog, console)")
	flags.StringP("output-format", "o", "text", "output format (text, json, table)")

	copyCmd.Flags().Int("batchsize", 500, "number of changes written per batch")
	copyCmd.Flags().Bool("batch", true, "write in batches and end each run at the feed head; false follows the feed continuously")
	copyCmd.Flags().Bool("once", false, "stop after the first run instead of restarting")
	copyCmd.Flags().Duration("restart-interval", time.Second, "minimum time between run starts")
	copyCmd.Flags().Duration("feed-timeout", 60*time.Second, "inactivity timeout of a continuous feed")
	copyCmd.Flags().Float64("write-rate", 0, "maximum bulk writes per second, 0 for unlimited")
	copyCmd.Flags().Int("fetch-workers", 4, "concurrent target reads when resolving conflicts")
	copyCmd.Flags().String("status-addr", "", "serve /health and /status on this address, e.g. 127.0.0.1:8080")

	infoCmd.Flags().Bool("target", false, "read the database from the target backend")

	statusCmd.Flags().String("addr", "", "status address of the running copy; defaults to the configured status-addr")

	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
