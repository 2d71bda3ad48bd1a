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

package common

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxDatabaseNameLength is the maximum allowed length for database names
	MaxDatabaseNameLength = 238

	// MaxDocumentIDLength is the maximum allowed length for document identifiers
	MaxDocumentIDLength = 4096

	// DesignPrefix is the identifier prefix of design documents
	DesignPrefix = "_design/"

	// LocalPrefix is the identifier prefix of local (non-replicated) documents
	LocalPrefix = "_local/"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidateDatabaseName validates a database name.
// A name must start with a lowercase letter and contain only lowercase
// letters, digits and any of _$()+-/
func ValidateDatabaseName(name string) error {
	if name == "" {
		return &ValidationError{
			Field:   "database",
			Message: "database name cannot be empty",
		}
	}

	if len(name) > MaxDatabaseNameLength {
		return &ValidationError{
			Field:   "database",
			Message: fmt.Sprintf("database name length exceeds maximum of %d bytes", MaxDatabaseNameLength),
		}
	}

	if name[0] < 'a' || name[0] > 'z' {
		return &ValidationError{
			Field:   "database",
			Message: "database name must start with a lowercase letter",
		}
	}

	for i := 1; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case strings.IndexByte("_$()+-/", c) >= 0:
		default:
			return &ValidationError{
				Field:   "database",
				Message: fmt.Sprintf("database name contains invalid character: %q", string(c)),
			}
		}
	}

	return nil
}

// ValidateDocumentID validates a replicated document identifier.
// Returns error if the id:
// - Is empty
// - Is not valid UTF-8
// - Exceeds maximum length
// - Uses a reserved underscore prefix other than _design/
func ValidateDocumentID(id string) error {
	if id == "" {
		return &ValidationError{
			Field:   "_id",
			Message: "document id cannot be empty",
		}
	}

	if len(id) > MaxDocumentIDLength {
		return &ValidationError{
			Field:   "_id",
			Message: fmt.Sprintf("document id length exceeds maximum of %d bytes", MaxDocumentIDLength),
		}
	}

	if !utf8.ValidString(id) {
		return &ValidationError{
			Field:   "_id",
			Message: "document id must be valid UTF-8",
		}
	}

	if strings.HasPrefix(id, "_") && !strings.HasPrefix(id, DesignPrefix) {
		return &ValidationError{
			Field:   "_id",
			Message: "only design documents may use a reserved underscore prefix",
		}
	}

	return nil
}
