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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/replication"
)

// Backend types
const (
	BackendCouchDB = "couchdb"
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendJSONL   = "jsonl"
)

// Log formats
const (
	LogFormatJSON    = "json"
	LogFormatZerolog = "zerolog"
	LogFormatConsole = "console"
)

// Config holds the CLI configuration settings.
type Config struct {
	// Host is the server root shared by both sides, e.g. https://account.cloudant.com
	Host     string
	Username string
	Password string

	SourceBackend string
	TargetBackend string

	// SourceURL and TargetURL override Host per side
	SourceURL string
	TargetURL string

	// SourcePath and TargetPath are directories holding file databases
	SourcePath string
	TargetPath string

	BatchSize       int
	Batch           bool
	Once            bool
	RestartInterval time.Duration
	FeedTimeout     time.Duration
	WriteRate       float64
	FetchWorkers    int

	StatusAddr   string
	LogLevel     string
	LogFormat    string
	OutputFormat string
}

// InitConfig initializes the configuration using Viper.
// Configuration priority: flags > env vars > config file > defaults.
func InitConfig(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("source-backend", BackendCouchDB)
	v.SetDefault("target-backend", BackendCouchDB)
	v.SetDefault("batchsize", 500)
	v.SetDefault("batch", true)
	v.SetDefault("once", false)
	v.SetDefault("restart-interval", time.Second)
	v.SetDefault("feed-timeout", 60*time.Second)
	v.SetDefault("write-rate", 0.0)
	v.SetDefault("fetch-workers", 4)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", LogFormatJSON)
	v.SetDefault("output-format", "text")

	// Set config file search paths
	if cfgFile != "" {
		// Use config file from the flag if provided
		v.SetConfigFile(cfgFile)
	} else {
		// Search for config in home directory and current directory
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".couchcopy")
		v.SetConfigType("yaml")
	}

	// Bind environment variables; COUCHCOPY_SOURCE_URL maps to source-url
	v.SetEnvPrefix("COUCHCOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return v, nil
}

// GetConfig extracts the configuration from Viper into a Config struct.
func GetConfig(v *viper.Viper) *Config {
	return &Config{
		Host:            v.GetString("host"),
		Username:        v.GetString("username"),
		Password:        v.GetString("password"),
		SourceBackend:   v.GetString("source-backend"),
		TargetBackend:   v.GetString("target-backend"),
		SourceURL:       v.GetString("source-url"),
		TargetURL:       v.GetString("target-url"),
		SourcePath:      v.GetString("source-path"),
		TargetPath:      v.GetString("target-path"),
		BatchSize:       v.GetInt("batchsize"),
		Batch:           v.GetBool("batch"),
		Once:            v.GetBool("once"),
		RestartInterval: v.GetDuration("restart-interval"),
		FeedTimeout:     v.GetDuration("feed-timeout"),
		WriteRate:       v.GetFloat64("write-rate"),
		FetchWorkers:    v.GetInt("fetch-workers"),
		StatusAddr:      v.GetString("status-addr"),
		LogLevel:        v.GetString("log-level"),
		LogFormat:       v.GetString("log-format"),
		OutputFormat:    v.GetString("output-format"),
	}
}

// SourceSettings returns the backend settings for the source database.
func (c *Config) SourceSettings(database string) map[string]string {
	return c.settings(c.SourceBackend, c.SourceURL, c.SourcePath, database)
}

// TargetSettings returns the backend settings for the target database.
func (c *Config) TargetSettings(database string) map[string]string {
	return c.settings(c.TargetBackend, c.TargetURL, c.TargetPath, database)
}

func (c *Config) settings(backend, url, dir, database string) map[string]string {
	settings := make(map[string]string)

	switch backend {
	case BackendCouchDB:
		settings["url"] = c.Host
		if url != "" {
			settings["url"] = url
		}
		settings["database"] = database
		if c.Username != "" {
			settings["username"] = c.Username
			settings["password"] = c.Password
		}
	case BackendMemory:
		settings["name"] = database
	case BackendSQLite, BackendJSONL:
		// The database argument names a file, relative to the configured directory
		path := database
		if dir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		settings["path"] = path
	}

	return settings
}

// ReplicationConfig returns the settings of a replication run.
func (c *Config) ReplicationConfig(logger adapters.Logger, metrics *replication.Metrics) replication.Config {
	return replication.Config{
		BatchSize:    c.BatchSize,
		Continuous:   !c.Batch,
		FeedTimeout:  c.FeedTimeout,
		CheckpointID: common.CheckpointID,
		WriteRate:    c.WriteRate,
		FetchWorkers: c.FetchWorkers,
		Logger:       logger,
		Metrics:      metrics,
	}
}

// NewLogger creates the logger selected by LogFormat and LogLevel.
func (c *Config) NewLogger(w io.Writer) (adapters.Logger, error) {
	level, err := adapters.ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	switch c.LogFormat {
	case "", LogFormatJSON:
		return adapters.NewSlogLogger(w, level), nil
	case LogFormatZerolog:
		return adapters.NewZerologLogger(w, level, false), nil
	case LogFormatConsole:
		return adapters.NewZerologLogger(w, level, true), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLogFormat, c.LogFormat)
	}
}

// DisplayConfig formats and displays the current configuration.
func DisplayConfig(cfg *Config, format string) string {
	switch format {
	case string(FormatJSON):
		return formatConfigJSON(cfg)
	case string(FormatTable):
		return formatConfigTable(cfg)
	default:
		return formatConfigText(cfg)
	}
}

func configRows(cfg *Config) [][2]string {
	rows := [][2]string{
		{"Source Backend", cfg.SourceBackend},
		{"Target Backend", cfg.TargetBackend},
	}
	if cfg.Host != "" {
		rows = append(rows, [2]string{"Host", cfg.Host})
	}
	if cfg.SourceURL != "" {
		rows = append(rows, [2]string{"Source URL", cfg.SourceURL})
	}
	if cfg.TargetURL != "" {
		rows = append(rows, [2]string{"Target URL", cfg.TargetURL})
	}
	if cfg.SourcePath != "" {
		rows = append(rows, [2]string{"Source Path", cfg.SourcePath})
	}
	if cfg.TargetPath != "" {
		rows = append(rows, [2]string{"Target Path", cfg.TargetPath})
	}
	if cfg.Username != "" {
		rows = append(rows, [2]string{"Username", cfg.Username})
	}
	if cfg.Password != "" {
		rows = append(rows, [2]string{"Password", maskSecret(cfg.Password)})
	}
	rows = append(rows,
		[2]string{"Batch Size", fmt.Sprintf("%d", cfg.BatchSize)},
		[2]string{"Batch", fmt.Sprintf("%t", cfg.Batch)},
		[2]string{"Once", fmt.Sprintf("%t", cfg.Once)},
		[2]string{"Output Format", cfg.OutputFormat},
	)
	return rows
}

func formatConfigText(cfg *Config) string {
	var result string
	for _, row := range configRows(cfg) {
		result += fmt.Sprintf("%s: %s\n", row[0], row[1])
	}
	return result
}

func formatConfigTable(cfg *Config) string {
	var result string
	result += "┌──────────────────┬────────────────────────────────────────┐\n"
	result += "│ Setting          │ Value                                  │\n"
	result += "├──────────────────┼────────────────────────────────────────┤\n"
	for _, row := range configRows(cfg) {
		result += fmt.Sprintf("│ %-16s │ %-38s │\n", row[0], truncate(row[1], 38))
	}
	result += "└──────────────────┴────────────────────────────────────────┘\n"
	return result
}

func formatConfigJSON(cfg *Config) string {
	out := make(map[string]string)
	for _, row := range configRows(cfg) {
		out[strings.ReplaceAll(strings.ToLower(row[0]), " ", "_")] = row[1]
	}
	return formatJSON(out)
}

// maskSecret masks sensitive information, showing only first 4 characters.
func maskSecret(s string) string {
	if len(s) < 5 {
		return "****"
	}
	return s[:4] + "****"
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// ValidateConfig validates the configuration of both sides of a copy.
func ValidateConfig(cfg *Config) error {
	if err := ValidateSource(cfg); err != nil {
		return err
	}
	return ValidateTarget(cfg)
}

// ValidateSource validates the general settings and the source backend.
func ValidateSource(cfg *Config) error {
	if err := validateCommon(cfg); err != nil {
		return err
	}
	return validateBackend(cfg, cfg.SourceBackend, cfg.SourceURL, &cfg.SourcePath)
}

// ValidateTarget validates the general settings and the target backend.
func ValidateTarget(cfg *Config) error {
	if err := validateCommon(cfg); err != nil {
		return err
	}
	if cfg.TargetBackend == BackendJSONL {
		return fmt.Errorf("%w: %s", common.ErrReadOnlyBackend, cfg.TargetBackend)
	}
	return validateBackend(cfg, cfg.TargetBackend, cfg.TargetURL, &cfg.TargetPath)
}

func validateBackend(cfg *Config, backend, url string, path *string) error {
	switch backend {
	case BackendCouchDB:
		if cfg.Host == "" && url == "" {
			return ErrHostRequired
		}
	case BackendMemory:
	case BackendSQLite, BackendJSONL:
		// Expand path if it contains ~
		if strings.HasPrefix(*path, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			*path = filepath.Join(home, (*path)[1:])
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	}
	return nil
}

func validateCommon(cfg *Config) error {
	if cfg.Batch && cfg.BatchSize <= 0 {
		return common.ErrInvalidBatchSize
	}
	if cfg.FetchWorkers <= 0 {
		return ErrInvalidWorkerCount
	}
	if cfg.WriteRate < 0 {
		return ErrInvalidWriteRate
	}
	if _, err := adapters.ParseLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	switch cfg.LogFormat {
	case "", LogFormatJSON, LogFormatZerolog, LogFormatConsole:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedLogFormat, cfg.LogFormat)
	}

	switch OutputFormat(cfg.OutputFormat) {
	case FormatText, FormatJSON, FormatTable:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOutputFormat, cfg.OutputFormat)
	}

	return nil
}
