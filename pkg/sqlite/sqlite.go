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

// Package sqlite stores a document database in a single SQLite file using the
// pure-Go modernc.org/sqlite driver. It can act as both change source and
// target and follows the same revision rules as a CouchDB database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// DefaultPollInterval is how often a continuous feed checks for new rows.
const DefaultPollInterval = 250 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id      TEXT PRIMARY KEY,
	gen     INTEGER NOT NULL,
	rev     TEXT NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	body    TEXT NOT NULL,
	seq     INTEGER NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS local_documents (
	id   TEXT PRIMARY KEY,
	rev  TEXT NOT NULL,
	body TEXT NOT NULL
);`

// Config contains the settings of a SQLite store.
type Config struct {
	// Path is the database file, or ":memory:"
	Path string

	// Name is reported by Info; defaults to the file name without extension
	Name string

	// PollInterval paces continuous feeds
	PollInterval time.Duration

	Logger adapters.Logger
}

// Store is a document database kept in SQLite.
type Store struct {
	db           *sql.DB
	name         string
	pollInterval time.Duration
	logger       adapters.Logger
}

// New opens (creating if needed) the database at config.Path.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.Path == "" {
		return nil, common.ErrPathNotSet
	}
	if config.Name == "" {
		base := filepath.Base(config.Path)
		config.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", config.Path, err)
	}
	// One connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite %s: %w", config.Path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", config.Path, err)
	}

	config.Logger.Debug(ctx, "SQLite store opened",
		adapters.Field{Key: "path", Value: config.Path})

	return &Store{
		db:           db,
		name:         config.Name,
		pollInterval: config.PollInterval,
		logger:       config.Logger,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Info returns document counts, sizes and the current update sequence.
func (s *Store) Info(ctx context.Context) (*common.DatabaseInfo, error) {
	info := &common.DatabaseInfo{Name: s.name}

	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted = 0 THEN LENGTH(body) ELSE 0 END), 0),
			COALESCE(MAX(seq), 0)
		FROM documents`).Scan(&info.DocCount, &info.DocDelCount, &info.ActiveSize, &seq)
	if err != nil {
		return nil, fmt.Errorf("read database info: %w", err)
	}
	info.UpdateSeq = formatSeq(seq)

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("read page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("read page size: %w", err)
	}
	info.DiskSize = pageCount * pageSize

	return info, nil
}

// BulkWrite applies ops in one transaction and reports one outcome per op.
func (s *Store) BulkWrite(ctx context.Context, ops []common.WriteOp) ([]common.WriteOutcome, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	outcomes := make([]common.WriteOutcome, len(ops))
	for i, op := range ops {
		outcome, err := s.apply(ctx, tx, op)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", op.ID, err)
		}
		outcomes[i] = outcome
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, op common.WriteOp) (common.WriteOutcome, error) {
	if err := common.ValidateDocumentID(op.ID); err != nil {
		return common.WriteOutcome{ID: op.ID, Kind: common.OutcomeError, Reason: err.Error()}, nil
	}

	var (
		gen     int
		rev     string
		deleted bool
	)
	exists := true
	err := tx.QueryRowContext(ctx, `SELECT gen, rev, deleted FROM documents WHERE id = ?`, op.ID).
		Scan(&gen, &rev, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return common.WriteOutcome{}, err
	}

	if common.IsRevisionConflict(exists, deleted, rev, op.Rev) {
		return common.WriteOutcome{ID: op.ID, Kind: common.OutcomeConflict, Reason: "Document update conflict."}, nil
	}

	body := op.Body()
	delete(body, common.FieldRev)
	data, err := json.Marshal(body)
	if err != nil {
		return common.WriteOutcome{ID: op.ID, Kind: common.OutcomeError, Reason: err.Error()}, nil
	}

	newRev := common.NewRevision(gen + 1)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, gen, rev, deleted, body, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents))
		ON CONFLICT(id) DO UPDATE SET
			gen = excluded.gen,
			rev = excluded.rev,
			deleted = excluded.deleted,
			body = excluded.body,
			seq = excluded.seq`,
		op.ID, gen+1, newRev, op.Deleted, string(data))
	if err != nil {
		return common.WriteOutcome{}, err
	}

	return common.WriteOutcome{ID: op.ID, Kind: common.OutcomeSuccess, Rev: newRev}, nil
}

// GetDocument returns the current revision of id.
// Deleted documents are reported as common.ErrDocumentNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (common.Document, error) {
	var (
		rev     string
		deleted bool
		body    string
	)
	err := s.db.QueryRowContext(ctx, `SELECT rev, deleted, body FROM documents WHERE id = ?`, id).
		Scan(&rev, &deleted, &body)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return nil, fmt.Errorf("%w: %s", common.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}

	var doc common.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	doc[common.FieldRev] = rev
	return doc, nil
}

// LoadCheckpoint reads the local checkpoint record id.
func (s *Store) LoadCheckpoint(ctx context.Context, id string) (*common.Checkpoint, error) {
	var rev, body string
	err := s.db.QueryRowContext(ctx, `SELECT rev, body FROM local_documents WHERE id = ?`, id).
		Scan(&rev, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrCheckpointNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", id, err)
	}

	var cp common.Checkpoint
	if err := json.Unmarshal([]byte(body), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	cp.ID = id
	cp.Rev = rev
	return &cp, nil
}

// SaveCheckpoint stores cp if its Rev matches the stored record and updates
// cp.Rev to the new revision.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *common.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT rev FROM local_documents WHERE id = ?`, cp.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", cp.ID, err)
	}
	if (exists && current != cp.Rev) || (!exists && cp.Rev != "") {
		return fmt.Errorf("%w: %s", common.ErrCheckpointConflict, cp.ID)
	}

	rev := fmt.Sprintf("0-%d", common.RevisionGeneration(current)+1)
	stored := *cp
	stored.Rev = ""
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO local_documents (id, rev, body) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET rev = excluded.rev, body = excluded.body`,
		cp.ID, rev, string(data))
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", cp.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	cp.Rev = rev
	return nil
}

func formatSeq(seq int64) common.Sequence {
	return common.Sequence(strconv.FormatInt(seq, 10))
}
