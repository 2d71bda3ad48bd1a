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

// Package factory creates change sources and replication targets by backend
// name. Backends register themselves from init functions.
package factory

import (
	"context"
	"sort"
	"sync"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// SourceCreator is a function that creates a change source.
type SourceCreator func(ctx context.Context, settings map[string]string, logger adapters.Logger) (common.ChangeSource, error)

// TargetCreator is a function that creates a replication target.
type TargetCreator func(ctx context.Context, settings map[string]string, logger adapters.Logger) (common.TargetStore, error)

var (
	registryMu      sync.RWMutex
	sourceRegistry  = make(map[string]SourceCreator)
	targetRegistry  = make(map[string]TargetCreator)
	sourceOnlyTypes = map[string]bool{
		"jsonl": true,
	}
)

// RegisterSource registers a change source creator.
func RegisterSource(backendType string, creator SourceCreator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	sourceRegistry[backendType] = creator
}

// RegisterTarget registers a replication target creator.
func RegisterTarget(backendType string, creator TargetCreator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	targetRegistry[backendType] = creator
}

// NewSource creates a change source of the given type.
func NewSource(ctx context.Context, backendType string, settings map[string]string, logger adapters.Logger) (common.ChangeSource, error) {
	registryMu.RLock()
	creator, exists := sourceRegistry[backendType]
	registryMu.RUnlock()

	if !exists {
		return nil, ErrUnknownBackend
	}
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return creator(ctx, settings, logger)
}

// NewTarget creates a replication target of the given type.
func NewTarget(ctx context.Context, backendType string, settings map[string]string, logger adapters.Logger) (common.TargetStore, error) {
	// Check if this is a source-only backend
	if sourceOnlyTypes[backendType] {
		return nil, common.ErrReadOnlyBackend
	}

	registryMu.RLock()
	creator, exists := targetRegistry[backendType]
	registryMu.RUnlock()

	if !exists {
		return nil, ErrUnknownBackend
	}
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return creator(ctx, settings, logger)
}

// SourceTypes returns the registered change source types, sorted.
func SourceTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(sourceRegistry)
}

// TargetTypes returns the registered target types, sorted.
func TargetTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(targetRegistry)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
