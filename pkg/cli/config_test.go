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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willholley/couchcopy/pkg/common"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v, err := InitConfig("")
	require.NoError(t, err)
	return GetConfig(v)
}

func TestInitConfig_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, BackendCouchDB, cfg.SourceBackend)
	assert.Equal(t, BackendCouchDB, cfg.TargetBackend)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.True(t, cfg.Batch)
	assert.False(t, cfg.Once)
	assert.Equal(t, time.Second, cfg.RestartInterval)
	assert.Equal(t, 60*time.Second, cfg.FeedTimeout)
	assert.Equal(t, 4, cfg.FetchWorkers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, "text", cfg.OutputFormat)
}

func TestInitConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "couchcopy.yaml")
	content := "host: https://example.cloudant.com\nbatchsize: 50\nbatch: false\nsource-backend: sqlite\nsource-path: /data\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v, err := InitConfig(path)
	require.NoError(t, err)
	cfg := GetConfig(v)

	assert.Equal(t, "https://example.cloudant.com", cfg.Host)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.False(t, cfg.Batch)
	assert.Equal(t, BackendSQLite, cfg.SourceBackend)
	assert.Equal(t, "/data", cfg.SourcePath)
}

func TestInitConfig_Env(t *testing.T) {
	t.Setenv("COUCHCOPY_TARGET_URL", "http://target:5984")
	t.Setenv("COUCHCOPY_FETCH_WORKERS", "9")

	cfg := defaultConfig(t)
	assert.Equal(t, "http://target:5984", cfg.TargetURL)
	assert.Equal(t, 9, cfg.FetchWorkers)
}

func TestConfig_Settings(t *testing.T) {
	cfg := &Config{
		Host:          "http://host:5984",
		Username:      "admin",
		Password:      "secret",
		SourceBackend: BackendCouchDB,
		TargetBackend: BackendSQLite,
		TargetURL:     "http://ignored:5984",
		TargetPath:    "/var/lib/couchcopy",
	}

	assert.Equal(t, map[string]string{
		"url":      "http://host:5984",
		"database": "animals",
		"username": "admin",
		"password": "secret",
	}, cfg.SourceSettings("animals"))

	assert.Equal(t, map[string]string{"path": "/var/lib/couchcopy/animals.db"}, cfg.TargetSettings("animals.db"))
	assert.Equal(t, map[string]string{"path": "/abs/animals.db"}, cfg.TargetSettings("/abs/animals.db"))

	cfg.SourceURL = "http://source:5984"
	assert.Equal(t, "http://source:5984", cfg.SourceSettings("animals")["url"])

	cfg.SourceBackend = BackendMemory
	assert.Equal(t, map[string]string{"name": "animals"}, cfg.SourceSettings("animals"))
}

func TestConfig_ReplicationConfig(t *testing.T) {
	cfg := &Config{BatchSize: 25, Batch: false, FeedTimeout: time.Second, WriteRate: 2, FetchWorkers: 3}

	rc := cfg.ReplicationConfig(nil, nil)
	assert.Equal(t, 25, rc.BatchSize)
	assert.True(t, rc.Continuous)
	assert.Equal(t, time.Second, rc.FeedTimeout)
	assert.Equal(t, common.CheckpointID, rc.CheckpointID)
	assert.Equal(t, 2.0, rc.WriteRate)
	assert.Equal(t, 3, rc.FetchWorkers)
}

func TestConfig_NewLogger(t *testing.T) {
	for _, format := range []string{LogFormatJSON, LogFormatZerolog, LogFormatConsole} {
		var buf bytes.Buffer
		cfg := &Config{LogLevel: "debug", LogFormat: format}
		logger, err := cfg.NewLogger(&buf)
		require.NoError(t, err, format)
		require.NotNil(t, logger)
	}

	_, err := (&Config{LogLevel: "info", LogFormat: "xml"}).NewLogger(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnsupportedLogFormat)

	_, err = (&Config{LogLevel: "loud"}).NewLogger(&bytes.Buffer{})
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Host:          "http://localhost:5984",
		SourceBackend: BackendCouchDB,
		TargetBackend: BackendCouchDB,
		BatchSize:     500,
		Batch:         true,
		FetchWorkers:  4,
		LogLevel:      "info",
		LogFormat:     LogFormatJSON,
		OutputFormat:  "text",
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"no host", func(c *Config) { c.Host = "" }, ErrHostRequired},
		{"per side urls", func(c *Config) { c.Host, c.SourceURL, c.TargetURL = "", "http://a", "http://b" }, nil},
		{"bad batch size", func(c *Config) { c.BatchSize = 0 }, common.ErrInvalidBatchSize},
		{"continuous ignores batch size", func(c *Config) { c.BatchSize, c.Batch = 0, false }, nil},
		{"no workers", func(c *Config) { c.FetchWorkers = 0 }, ErrInvalidWorkerCount},
		{"negative rate", func(c *Config) { c.WriteRate = -1 }, ErrInvalidWriteRate},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, ErrUnsupportedLogFormat},
		{"bad output format", func(c *Config) { c.OutputFormat = "yaml" }, ErrUnsupportedOutputFormat},
		{"unknown backend", func(c *Config) { c.SourceBackend = "s3" }, ErrUnsupportedBackend},
		{"jsonl target", func(c *Config) { c.TargetBackend = BackendJSONL }, common.ErrReadOnlyBackend},
		{"jsonl source", func(c *Config) { c.SourceBackend = BackendJSONL }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateSource_IgnoresTarget(t *testing.T) {
	cfg := validConfig()
	cfg.TargetBackend = BackendJSONL
	assert.NoError(t, ValidateSource(cfg))
	assert.ErrorIs(t, ValidateTarget(cfg), common.ErrReadOnlyBackend)
}

func TestValidateConfig_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := validConfig()
	cfg.SourceBackend = BackendSQLite
	cfg.SourcePath = "~/dbs"
	require.NoError(t, ValidateSource(cfg))
	assert.Equal(t, filepath.Join(home, "dbs"), cfg.SourcePath)
}

func TestDisplayConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Password = "supersecret"

	text := DisplayConfig(cfg, "text")
	assert.Contains(t, text, "Host: http://localhost:5984\n")
	assert.Contains(t, text, "Password: supe****\n")
	assert.NotContains(t, text, "supersecret")

	assert.Contains(t, DisplayConfig(cfg, "table"), "Batch Size")

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(DisplayConfig(cfg, "json")), &out))
	assert.Equal(t, "500", out["batch_size"])
	assert.Equal(t, "couchdb", out["source_backend"])
}

func TestMaskSecretAndTruncate(t *testing.T) {
	assert.Equal(t, "****", maskSecret("abc"))
	assert.Equal(t, "abcd****", maskSecret("abcdefgh"))
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmno", 10))
}
