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

// Package couchdb adapts a CouchDB (or Cloudant) database, reached through the
// kivik client, to the change source and target interfaces. A Client serves
// as both.
package couchdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	kivikcouch "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/common"
)

// DriverName is the kivik driver registered by the couchdb package.
const DriverName = "couch"

// DefaultTimeout bounds every request except change feeds.
const DefaultTimeout = 30 * time.Second

// Config contains the settings of a CouchDB database client.
type Config struct {
	// URL is the server root, e.g. https://account.cloudant.com
	URL string

	// Database is the database name
	Database string

	// Username and Password are sent as HTTP basic auth when Username is set
	Username string
	Password string

	// Timeout bounds non-streaming requests; 0 means DefaultTimeout
	Timeout time.Duration

	Logger adapters.Logger
}

// Client is a CouchDB database.
type Client struct {
	client   *kivik.Client
	db       *kivik.DB
	database string
	timeout  time.Duration
	logger   adapters.Logger
}

// New creates a client for config.Database on config.URL. It does not contact
// the server.
func New(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, common.ErrURLNotSet
	}
	if config.Database == "" {
		return nil, common.ErrDatabaseNotSet
	}
	if err := common.ValidateDatabaseName(config.Database); err != nil {
		return nil, err
	}

	u, err := url.Parse(config.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, config.URL)
	}
	// Credentials embedded in the URL are used when none are configured.
	// They are always sent as basic auth rather than a session cookie.
	if u.User != nil {
		if config.Username == "" {
			config.Username = u.User.Username()
			config.Password, _ = u.User.Password()
		}
		u.User = nil
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}

	options := []kivik.Option{kivikcouch.OptionNoRequestCompression()}
	if config.Username != "" {
		options = append(options, kivikcouch.BasicAuth(config.Username, config.Password))
	}

	client, err := kivik.New(DriverName, strings.TrimSuffix(u.String(), "/"), options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	db := client.DB(config.Database)
	if err := db.Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open database %s: %w", config.Database, err)
	}

	return &Client{
		client:   client,
		db:       db,
		database: config.Database,
		timeout:  config.Timeout,
		logger:   config.Logger,
	}, nil
}

// Database returns the database name.
func (c *Client) Database() string {
	return c.database
}

// Close releases the client.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// dbInfo is the raw GET /{db} body. CouchDB 2+ reports sizes; 1.x reports
// disk_size and data_size and a numeric update_seq.
type dbInfo struct {
	DBName      string          `json:"db_name"`
	DocCount    int64           `json:"doc_count"`
	DocDelCount int64           `json:"doc_del_count"`
	UpdateSeq   common.Sequence `json:"update_seq"`
	Sizes       *struct {
		Active int64 `json:"active"`
		File   int64 `json:"file"`
	} `json:"sizes"`
	DiskSize int64 `json:"disk_size"`
	DataSize int64 `json:"data_size"`
}

// Info returns the database metadata.
func (c *Client) Info(ctx context.Context) (*common.DatabaseInfo, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	stats, err := c.db.Stats(ctx)
	if err != nil {
		return nil, newResponseError("database info "+c.database, err)
	}

	info := &common.DatabaseInfo{
		Name:        stats.Name,
		DocCount:    stats.DocCount,
		DocDelCount: stats.DeletedCount,
		ActiveSize:  stats.ActiveSize,
		DiskSize:    stats.DiskSize,
		UpdateSeq:   common.Sequence(stats.UpdateSeq),
	}

	var raw dbInfo
	if len(stats.RawResponse) > 0 && json.Unmarshal(stats.RawResponse, &raw) == nil {
		info.ActiveSize, info.DiskSize = raw.DataSize, raw.DiskSize
		if raw.Sizes != nil {
			info.ActiveSize, info.DiskSize = raw.Sizes.Active, raw.Sizes.File
		}
		if raw.UpdateSeq != "" {
			info.UpdateSeq = raw.UpdateSeq
		}
	}
	if info.Name == "" {
		info.Name = c.database
	}
	return info, nil
}

// BulkWrite posts all ops to _bulk_docs and classifies each row of the response.
func (c *Client) BulkWrite(ctx context.Context, ops []common.WriteOp) ([]common.WriteOutcome, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	docs := make([]any, len(ops))
	for i, op := range ops {
		docs[i] = op.Body()
	}

	rows, err := c.db.BulkDocs(ctx, docs)
	if err != nil {
		return nil, newResponseError("bulk write "+c.database, err)
	}

	outcomes := make([]common.WriteOutcome, len(rows))
	for i, row := range rows {
		outcomes[i] = classify(row)
	}
	return outcomes, nil
}

func classify(row kivik.BulkResult) common.WriteOutcome {
	switch {
	case row.Error == nil:
		return common.WriteOutcome{ID: row.ID, Kind: common.OutcomeSuccess, Rev: row.Rev}
	case kivik.HTTPStatus(row.Error) == http.StatusConflict:
		return common.WriteOutcome{ID: row.ID, Kind: common.OutcomeConflict, Reason: row.Error.Error()}
	default:
		return common.WriteOutcome{ID: row.ID, Kind: common.OutcomeError, Reason: row.Error.Error()}
	}
}

// GetDocument returns the winning revision of id.
func (c *Client) GetDocument(ctx context.Context, id string) (common.Document, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var doc common.Document
	if err := c.db.Get(ctx, id).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", common.ErrDocumentNotFound, id)
		}
		return nil, newResponseError("get "+id, err)
	}
	return doc, nil
}

// LoadCheckpoint reads the local checkpoint document id.
func (c *Client) LoadCheckpoint(ctx context.Context, id string) (*common.Checkpoint, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var cp common.Checkpoint
	if err := c.db.Get(ctx, id).ScanDoc(&cp); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", common.ErrCheckpointNotFound, id)
		}
		return nil, newResponseError("load checkpoint "+id, err)
	}
	if cp.ID == "" {
		cp.ID = id
	}
	return &cp, nil
}

// SaveCheckpoint writes cp and records the new revision in cp.Rev.
func (c *Client) SaveCheckpoint(ctx context.Context, cp *common.Checkpoint) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	rev, err := c.db.Put(ctx, cp.ID, cp)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return fmt.Errorf("%w: %s", common.ErrCheckpointConflict, cp.ID)
		}
		return newResponseError("save checkpoint "+cp.ID, err)
	}
	cp.Rev = rev
	return nil
}
