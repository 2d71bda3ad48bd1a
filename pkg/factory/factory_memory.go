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
	"github.com/willholley/couchcopy/pkg/memory"
)

// memoryDatabase opens the process-wide database named by the "name" setting,
// so a source and target with the same name share contents.
func memoryDatabase(settings map[string]string) (*memory.Memory, error) {
	name := settings["name"]
	if name == "" {
		return nil, common.ErrDatabaseNotSet
	}
	return memory.Open(name), nil
}

func init() {
	RegisterSource("memory", func(_ context.Context, settings map[string]string, _ adapters.Logger) (common.ChangeSource, error) {
		db, err := memoryDatabase(settings)
		if err != nil {
			return nil, err
		}
		return db, nil
	})

	RegisterTarget("memory", func(_ context.Context, settings map[string]string, _ adapters.Logger) (common.TargetStore, error) {
		db, err := memoryDatabase(settings)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
}
