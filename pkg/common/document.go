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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Reserved document fields.
const (
	FieldID          = "_id"
	FieldRev         = "_rev"
	FieldDeleted     = "_deleted"
	FieldAttachments = "_attachments"
)

// Document is a JSON document body keyed by field name.
type Document map[string]any

// ID returns the document identifier, or "" if the body carries none.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Rev returns the version stamp carried by the body, or "".
func (d Document) Rev() string {
	rev, _ := d[FieldRev].(string)
	return rev
}

// Deleted reports whether the body is a tombstone.
func (d Document) Deleted() bool {
	deleted, _ := d[FieldDeleted].(bool)
	return deleted
}

// HasAttachments reports whether the body embeds attachments.
func (d Document) HasAttachments() bool {
	_, ok := d[FieldAttachments]
	return ok
}

// Clone returns a shallow copy of the document. Nested values are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	c := make(Document, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// WithoutRev returns a copy of the document with its version stamp removed.
func (d Document) WithoutRev() Document {
	c := d.Clone()
	delete(c, FieldRev)
	return c
}

// Sequence is an opaque, ordered change feed position.
type Sequence string

// ZeroSequence is the position before the first change of a feed.
const ZeroSequence Sequence = "0"

// String returns the token text.
func (s Sequence) String() string {
	return string(s)
}

// IsZero reports whether the sequence names the start of the feed.
func (s Sequence) IsZero() bool {
	return s == "" || s == ZeroSequence
}

// UnmarshalJSON accepts both string tokens and numeric sequences (older stores
// use plain integers). Numbers are kept as their decimal text.
func (s *Sequence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Sequence(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Sequence(n.String())
	return nil
}

// Int64 parses a numeric sequence. It reports false for opaque tokens.
func (s Sequence) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NewRevision returns a fresh version stamp of generation gen.
func NewRevision(gen int) string {
	return fmt.Sprintf("%d-%s", gen, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// RevisionGeneration returns the numeric generation prefix of rev, or 0.
func RevisionGeneration(rev string) int {
	prefix, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	gen, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return gen
}

// IsRevisionConflict reports whether writing with requested rev over the
// current state of a document must be refused. A write without a rev may only
// create a document that is absent or deleted; a write with a rev must name
// the current revision.
func IsRevisionConflict(exists, deleted bool, current, requested string) bool {
	if requested == "" {
		return exists && !deleted
	}
	return !exists || requested != current
}
