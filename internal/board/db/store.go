// Package db provides the durable board store.
//
// The store holds the two ordered collections of the board (items and
// folders) and is the single source of truth: sessions only ever see copies
// that are replaced after every write.
//
// Backends are selected by DSN:
//
//	board.db, sqlite:board.db, file:board.db   embedded SQLite (WAL)
//	postgres://user@host/board                 PostgreSQL
//	memory:                                    in-process, for tests
//
// Every write runs in one transaction and bumps the board revision, so a
// batch either applies completely or not at all.
package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

// Store is the persistence contract used by the synchronization engine.
type Store interface {
	// CreateItem inserts a new item. Returns *schema.ConflictError if the id
	// already exists.
	CreateItem(ctx context.Context, item schema.Item) error

	// CreateFolder inserts a new folder. Returns *schema.ConflictError if
	// the id already exists.
	CreateFolder(ctx context.Context, folder schema.Folder) error

	// ListItems returns all items ordered by order, then id.
	ListItems(ctx context.Context) ([]schema.Item, error)

	// ListFoldersWithItems returns all folders ordered by order, then id,
	// each with its child items in the same ordering.
	ListFoldersWithItems(ctx context.Context) ([]schema.Folder, error)

	// GetItem looks up one item. The bool is false when it does not exist.
	GetItem(ctx context.Context, id string) (schema.Item, bool, error)

	// UpsertItems creates or updates every item in one transaction.
	UpsertItems(ctx context.Context, items []schema.Item, opts UpsertOptions) error

	// UpsertFolders creates or updates every folder in one transaction.
	UpsertFolders(ctx context.Context, folders []schema.Folder, opts UpsertOptions) error

	// MissingFolders returns the ids in ids that name no existing folder.
	MissingFolders(ctx context.Context, ids []string) ([]string, error)

	// Revision returns the board revision, bumped by every write.
	Revision(ctx context.Context) (int64, error)

	Close() error
}

// UpsertOptions tunes a batch upsert.
type UpsertOptions struct {
	// Renumber re-sequences every sibling group touched by the batch to a
	// dense 0-based order inside the same transaction.
	Renumber bool
}

// Open opens the store named by dsn and makes sure its schema exists.
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store dsn is required")
	}
	scheme := ""
	if i := strings.Index(dsn, ":"); i > 0 {
		scheme = strings.ToLower(dsn[:i])
	}
	switch scheme {
	case "memory", "mem":
		return NewMemory(), nil
	case "postgres", "postgresql":
		return opened(OpenPostgres(ctx, dsn))
	case "sqlite", "sqlite3":
		return opened(OpenSQLite(ctx, sqlitePath(dsn)))
	case "file":
		return opened(OpenSQLite(ctx, strings.TrimPrefix(dsn, "file:")))
	default:
		if strings.Contains(dsn, "://") {
			return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
		}
		return opened(OpenSQLite(ctx, dsn))
	}
}

func opened(s *SQLStore, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// sqlitePath accepts sqlite:path, sqlite://path and sqlite:///abs/path.
func sqlitePath(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Opaque == "" && (u.Host != "" || u.Path != "") {
		return u.Host + u.Path
	}
	_, rest, _ := strings.Cut(dsn, ":")
	return rest
}
