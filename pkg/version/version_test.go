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

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	assert.NotEmpty(t, Get())
	assert.Equal(t, Version, Get())
}

func TestGet_Override(t *testing.T) {
	saved := Version
	t.Cleanup(func() { Version = saved })

	Version = "1.2.3"
	assert.Equal(t, "1.2.3", Get())
}
