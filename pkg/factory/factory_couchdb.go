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
	"github.com/willholley/couchcopy/pkg/couchdb"
)

func couchdbClient(settings map[string]string, logger adapters.Logger) (*couchdb.Client, error) {
	config := couchdb.Config{
		URL:      settings["url"],
		Database: settings["database"],
		Username: settings["username"],
		Password: settings["password"],
		Logger:   logger,
	}
	if raw := settings["timeout"]; raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: timeout %q: %w", ErrInvalidSetting, raw, err)
		}
		config.Timeout = timeout
	}
	return couchdb.New(config)
}

func init() {
	RegisterSource("couchdb", func(_ context.Context, settings map[string]string, logger adapters.Logger) (common.ChangeSource, error) {
		db, err := couchdbClient(settings, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	})

	RegisterTarget("couchdb", func(_ context.Context, settings map[string]string, logger adapters.Logger) (common.TargetStore, error) {
		db, err := couchdbClient(settings, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
}
