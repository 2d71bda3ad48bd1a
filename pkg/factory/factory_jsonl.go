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

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/jsonl"
)

func init() {
	RegisterSource("jsonl", func(_ context.Context, settings map[string]string, logger adapters.Logger) (common.ChangeSource, error) {
		src, err := jsonl.New(jsonl.Config{Path: settings["path"], Logger: logger})
		if err != nil {
			return nil, err
		}
		return src, nil
	})
}
