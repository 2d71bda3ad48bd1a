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

import "errors"

var (
	// Configuration errors

	// ErrHostRequired is returned when a couchdb backend has neither host nor URL.
	ErrHostRequired = errors.New("host or backend url is required for couchdb backend")

	// ErrUnsupportedBackend is returned when an unsupported backend is specified.
	ErrUnsupportedBackend = errors.New("unsupported backend")

	// ErrUnsupportedOutputFormat is returned when an unsupported output format is specified.
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")

	// ErrUnsupportedLogFormat is returned when an unsupported log format is specified.
	ErrUnsupportedLogFormat = errors.New("unsupported log format")

	// ErrInvalidWorkerCount is returned when fetch-workers is not positive.
	ErrInvalidWorkerCount = errors.New("fetch-workers must be greater than zero")

	// ErrInvalidWriteRate is returned when write-rate is negative.
	ErrInvalidWriteRate = errors.New("write-rate cannot be negative")
)
