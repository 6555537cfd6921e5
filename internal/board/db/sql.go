package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

const schemaDDL = `
	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_open BOOLEAN NOT NULL DEFAULT FALSE,
		sort_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		icon TEXT NOT NULL,
		folder_id TEXT REFERENCES folders(id),
		sort_order INTEGER NOT NULL DEFAULT 0
	);

	-- Single-row table holding the board revision
	CREATE TABLE IF NOT EXISTS board_meta (
		id INTEGER PRIMARY KEY,
		revision BIGINT NOT NULL
	);

	INSERT INTO board_meta (id, revision) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

	CREATE INDEX IF NOT EXISTS idx_items_folder_order ON items(folder_id, sort_order);
	CREATE INDEX IF NOT EXISTS idx_folders_order ON folders(sort_order);
	`

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// rebind rewrites ? placeholders into the backend's native form.
	rebind func(query string) string
	// beforeClose runs right before the pool is closed.
	beforeClose func(conn *sql.DB) error
}

func questionMarks(query string) string { return query }

func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	conn    *sql.DB
	dialect dialect
	source  string
}

func newSQLStore(conn *sql.DB, d dialect, source string) *SQLStore {
	return &SQLStore{conn: conn, dialect: d, source: source}
}

// RawDB returns the underlying sql.DB connection.
func (s *SQLStore) RawDB() *sql.DB {
	return s.conn
}

// Source describes where the store lives, for logs.
func (s *SQLStore) Source() string {
	return s.dialect.name + ":" + s.source
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// InitSchema creates the tables if they don't exist. Safe to call repeatedly.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.conn == nil {
		return nil
	}
	if s.dialect.beforeClose != nil {
		_ = s.dialect.beforeClose(s.conn)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// write runs fn in a transaction, bumps the board revision and commits.
// Any failure rolls the whole transaction back.
func (s *SQLStore) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return schema.Persistence(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return schema.Persistence(op, err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE board_meta SET revision = revision + 1 WHERE id = 1`)); err != nil {
		return schema.Persistence(op, fmt.Errorf("failed to bump revision: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return schema.Persistence(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// CreateItem implements Store.CreateItem.
func (s *SQLStore) CreateItem(ctx context.Context, item schema.Item) error {
	return s.write(ctx, "create item", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO items (id, title, icon, folder_id, sort_order)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			item.ID, item.Title, item.Icon, folderToNullString(item.FolderID), item.Order,
		)
		if err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
		}
		return conflictIfUnchanged(res, "item", item.ID)
	})
}

// CreateFolder implements Store.CreateFolder.
func (s *SQLStore) CreateFolder(ctx context.Context, folder schema.Folder) error {
	return s.write(ctx, "create folder", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO folders (id, name, is_open, sort_order)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			folder.ID, folder.Name, folder.IsOpen, folder.Order,
		)
		if err != nil {
			return fmt.Errorf("failed to insert folder %s: %w", folder.ID, err)
		}
		return conflictIfUnchanged(res, "folder", folder.ID)
	})
}

func conflictIfUnchanged(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &schema.ConflictError{Kind: kind, ID: id}
	}
	return nil
}

// ListItems implements Store.ListItems.
func (s *SQLStore) ListItems(ctx context.Context) ([]schema.Item, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, icon, folder_id, sort_order
		FROM items
		ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, schema.Persistence("list items", fmt.Errorf("failed to query items: %w", err))
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, schema.Persistence("list items", err)
	}
	return items, nil
}

// ListFoldersWithItems implements Store.ListFoldersWithItems. Folders and
// their items are read by a single statement so the result is consistent.
func (s *SQLStore) ListFoldersWithItems(ctx context.Context) ([]schema.Folder, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT f.id, f.name, f.is_open, f.sort_order,
		       i.id, i.title, i.icon, i.sort_order
		FROM folders f
		LEFT JOIN items i ON i.folder_id = f.id
		ORDER BY f.sort_order ASC, f.id ASC, i.sort_order ASC, i.id ASC`)
	if err != nil {
		return nil, schema.Persistence("list folders", fmt.Errorf("failed to query folders: %w", err))
	}
	defer rows.Close()

	folders := []schema.Folder{}
	for rows.Next() {
		var folder schema.Folder
		var itemID, title, icon sql.NullString
		var itemOrder sql.NullInt64

		if err := rows.Scan(
			&folder.ID, &folder.Name, &folder.IsOpen, &folder.Order,
			&itemID, &title, &icon, &itemOrder,
		); err != nil {
			return nil, schema.Persistence("list folders", fmt.Errorf("failed to scan folder: %w", err))
		}

		if n := len(folders); n == 0 || folders[n-1].ID != folder.ID {
			folder.Items = []schema.Item{}
			folders = append(folders, folder)
		}
		if itemID.Valid {
			last := &folders[len(folders)-1]
			last.Items = append(last.Items, schema.Item{
				ID:       itemID.String,
				Title:    title.String,
				Icon:     icon.String,
				FolderID: schema.FolderRef(last.ID),
				Order:    int(itemOrder.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, schema.Persistence("list folders", fmt.Errorf("error iterating folders: %w", err))
	}
	return folders, nil
}

// GetItem implements Store.GetItem.
func (s *SQLStore) GetItem(ctx context.Context, id string) (schema.Item, bool, error) {
	row := s.conn.QueryRowContext(ctx, s.q(`
		SELECT id, title, icon, folder_id, sort_order
		FROM items
		WHERE id = ?`), id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Item{}, false, nil
	}
	if err != nil {
		return schema.Item{}, false, schema.Persistence("get item", err)
	}
	return item, true, nil
}

// UpsertItems implements Store.UpsertItems.
func (s *SQLStore) UpsertItems(ctx context.Context, items []schema.Item, opts UpsertOptions) error {
	return s.write(ctx, "upsert items", func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO items (id, title, icon, folder_id, sort_order)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title,
				icon = excluded.icon,
				folder_id = excluded.folder_id,
				sort_order = excluded.sort_order`))
		if err != nil {
			return fmt.Errorf("failed to prepare item upsert: %w", err)
		}
		defer upsert.Close()

		groups := make(map[string]bool)
		submitted := make(map[string]bool, len(items))
		for _, item := range items {
			if opts.Renumber {
				var previous sql.NullString
				err := tx.QueryRowContext(ctx, s.q(`SELECT folder_id FROM items WHERE id = ?`), item.ID).Scan(&previous)
				switch {
				case errors.Is(err, sql.ErrNoRows):
				case err != nil:
					return fmt.Errorf("failed to read item %s: %w", item.ID, err)
				default:
					groups[nullStringGroup(previous)] = true
				}
				groups[item.Group()] = true
				submitted[item.ID] = true
			}

			if _, err := upsert.ExecContext(ctx,
				item.ID, item.Title, item.Icon, folderToNullString(item.FolderID), item.Order,
			); err != nil {
				return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
			}
		}

		if !opts.Renumber {
			return nil
		}
		for group := range groups {
			if err := s.renumberItemGroup(ctx, tx, group, submitted); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) renumberItemGroup(ctx context.Context, tx *sql.Tx, group string, submitted map[string]bool) error {
	var (
		rows *sql.Rows
		err  error
	)
	if group == schema.RootGroup {
		rows, err = tx.QueryContext(ctx, `
			SELECT id, title, icon, folder_id, sort_order FROM items WHERE folder_id IS NULL`)
	} else {
		rows, err = tx.QueryContext(ctx, s.q(`
			SELECT id, title, icon, folder_id, sort_order FROM items WHERE folder_id = ?`), group)
	}
	if err != nil {
		return fmt.Errorf("failed to query sibling group %q: %w", group, err)
	}
	members, err := scanItems(rows)
	rows.Close()
	if err != nil {
		return err
	}

	before := make(map[string]int, len(members))
	for _, m := range members {
		before[m.ID] = m.Order
	}
	for _, m := range schema.DenseItems(members, submitted) {
		if before[m.ID] == m.Order {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE items SET sort_order = ? WHERE id = ?`), m.Order, m.ID); err != nil {
			return fmt.Errorf("failed to renumber item %s: %w", m.ID, err)
		}
	}
	return nil
}

// UpsertFolders implements Store.UpsertFolders.
func (s *SQLStore) UpsertFolders(ctx context.Context, folders []schema.Folder, opts UpsertOptions) error {
	return s.write(ctx, "upsert folders", func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO folders (id, name, is_open, sort_order)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				is_open = excluded.is_open,
				sort_order = excluded.sort_order`))
		if err != nil {
			return fmt.Errorf("failed to prepare folder upsert: %w", err)
		}
		defer upsert.Close()

		submitted := make(map[string]bool, len(folders))
		for _, folder := range folders {
			submitted[folder.ID] = true
			if _, err := upsert.ExecContext(ctx, folder.ID, folder.Name, folder.IsOpen, folder.Order); err != nil {
				return fmt.Errorf("failed to upsert folder %s: %w", folder.ID, err)
			}
		}

		if !opts.Renumber || len(folders) == 0 {
			return nil
		}
		return s.renumberFolders(ctx, tx, submitted)
	})
}

func (s *SQLStore) renumberFolders(ctx context.Context, tx *sql.Tx, submitted map[string]bool) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, sort_order FROM folders`)
	if err != nil {
		return fmt.Errorf("failed to query folders: %w", err)
	}
	var all []schema.Folder
	for rows.Next() {
		var f schema.Folder
		if err := rows.Scan(&f.ID, &f.Order); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan folder: %w", err)
		}
		all = append(all, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating folders: %w", err)
	}

	before := make(map[string]int, len(all))
	for _, f := range all {
		before[f.ID] = f.Order
	}
	for _, f := range schema.DenseFolders(all, submitted) {
		if before[f.ID] == f.Order {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE folders SET sort_order = ? WHERE id = ?`), f.Order, f.ID); err != nil {
			return fmt.Errorf("failed to renumber folder %s: %w", f.ID, err)
		}
	}
	return nil
}

// MissingFolders implements Store.MissingFolders.
func (s *SQLStore) MissingFolders(ctx context.Context, ids []string) ([]string, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.conn.QueryContext(ctx, s.q(`SELECT id FROM folders WHERE id IN (`+placeholders+`)`), args...)
	if err != nil {
		return nil, schema.Persistence("check folders", fmt.Errorf("failed to query folders: %w", err))
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, schema.Persistence("check folders", fmt.Errorf("failed to scan folder id: %w", err))
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, schema.Persistence("check folders", fmt.Errorf("error iterating folders: %w", err))
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Revision implements Store.Revision.
func (s *SQLStore) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.conn.QueryRowContext(ctx, `SELECT revision FROM board_meta WHERE id = 1`).Scan(&rev); err != nil {
		return 0, schema.Persistence("read revision", fmt.Errorf("failed to read revision: %w", err))
	}
	return rev, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (schema.Item, error) {
	var item schema.Item
	var folderID sql.NullString
	if err := row.Scan(&item.ID, &item.Title, &item.Icon, &folderID, &item.Order); err != nil {
		return schema.Item{}, err
	}
	if folderID.Valid {
		item.FolderID = schema.FolderRef(folderID.String)
	}
	return item, nil
}

// scanItems is a helper function to scan multiple items from query results.
func scanItems(rows *sql.Rows) ([]schema.Item, error) {
	items := []schema.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

// folderToNullString converts a folder reference to a nullable string for SQL.
func folderToNullString(id *string) sql.NullString {
	if id == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *id, Valid: true}
}

func nullStringGroup(ns sql.NullString) string {
	if !ns.Valid {
		return schema.RootGroup
	}
	return ns.String
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
