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

package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/sqlite"
)

func sqliteStore(ctx context.Context, settings map[string]string, logger adapters.Logger) (*sqlite.Store, error) {
	config := sqlite.Config{
		Path:   settings["path"],
		Name:   settings["name"],
		Logger: logger,
	}
	if raw := settings["poll_interval"]; raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: poll_interval %q: %w", ErrInvalidSetting, raw, err)
		}
		config.PollInterval = interval
	}
	return sqlite.New(ctx, config)
}

func init() {
	RegisterSource("sqlite", func(ctx context.Context, settings map[string]string, logger adapters.Logger) (common.ChangeSource, error) {
		db, err := sqliteStore(ctx, settings, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	})

	RegisterTarget("sqlite", func(ctx context.Context, settings map[string]string, logger adapters.Logger) (common.TargetStore, error) {
		db, err := sqliteStore(ctx, settings, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
}
