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

package couchdb

import (
	"errors"
	"fmt"
	"net/http"

	kivik "github.com/go-kivik/kivik/v4"
)

var (
	// ErrServerError is returned when the server answers with an unexpected status.
	ErrServerError = errors.New("server error")

	// ErrUnauthorized is returned when the credentials are missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the database or resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidURL is returned when the server URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid server url")
)

// ResponseError describes a failed request. StatusCode is the HTTP status
// reported by kivik.
type ResponseError struct {
	Op         string
	StatusCode int
	Err        error
}

func newResponseError(op string, err error) *ResponseError {
	return &ResponseError{Op: op, StatusCode: kivik.HTTPStatus(err), Err: err}
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %d: %v", e.Op, e.StatusCode, e.Err)
}

// Unwrap exposes both the status class and the underlying kivik error.
func (e *ResponseError) Unwrap() []error {
	var class error
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		class = ErrUnauthorized
	case http.StatusNotFound:
		class = ErrNotFound
	default:
		class = ErrServerError
	}
	return []error{class, e.Err}
}
