// Package migrate dumps and loads the canonical board state as JSONL.
//
// A dump holds one record per line: every folder first, then every item, each
// in board order. Loading goes through the same transactional upserts the
// live channel uses, so a dump can seed an empty board or be replayed onto a
// populated one.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/launchboard/internal/board/db"
	"github.com/steveyegge/launchboard/internal/board/schema"
	"github.com/steveyegge/launchboard/internal/board/validate"
)

// Record kinds
const (
	KindFolder = "folder"
	KindItem   = "item"
)

// Record is one line of a board dump. Exactly one of Folder and Item is set.
type Record struct {
	Kind   string         `json:"kind"`
	Folder *schema.Folder `json:"folder,omitempty"`
	Item   *schema.Item   `json:"item,omitempty"`
}

// ExportResult contains statistics about an export
type ExportResult struct {
	Folders  int
	Items    int
	Revision int64
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	DryRun   bool // Parse and check without writing
	Backup   bool // Export the current board next to the input first
	Renumber bool // Re-sequence touched sibling groups to dense order

	// Validator checks every record (default: validate.MustNew()).
	Validator *validate.Validator
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Folders       int
	Items         int
	Revision      int64
	BackupCreated string
}

// Export writes the board held by store to w.
func Export(ctx context.Context, store db.Store, w io.Writer) (*ExportResult, error) {
	revision, err := store.Revision(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read revision: %w", err)
	}
	folders, err := store.ListFoldersWithItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	items, err := store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	bw := bufio.NewWriter(w)
	encoder := json.NewEncoder(bw)
	for i := range folders {
		folder := folders[i]
		folder.Items = nil
		if err := encoder.Encode(Record{Kind: KindFolder, Folder: &folder}); err != nil {
			return nil, fmt.Errorf("failed to encode folder %s: %w", folder.ID, err)
		}
	}
	for i := range items {
		item := items[i]
		item.IconURL = ""
		if err := encoder.Encode(Record{Kind: KindItem, Item: &item}); err != nil {
			return nil, fmt.Errorf("failed to encode item %s: %w", item.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}

	return &ExportResult{Folders: len(folders), Items: len(items), Revision: revision}, nil
}

// ExportFile writes the board to path, replacing it atomically.
func ExportFile(ctx context.Context, store db.Store, path string) (*ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	result, err := Export(ctx, store, file)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// Read parses a dump. Every record is validated; duplicate ids and items that
// reference a folder missing from the dump are reported by Import, which can
// see the store.
func Read(r io.Reader, v *validate.Validator) ([]schema.Folder, []schema.Item, error) {
	if v == nil {
		v = validate.MustNew()
	}

	var folders []schema.Folder
	var items []schema.Item
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		switch {
		case rec.Kind == KindFolder && rec.Folder != nil:
			if err := v.CheckFolder(*rec.Folder); err != nil {
				return nil, nil, fmt.Errorf("invalid folder at line %d: %w", lineNum, err)
			}
			rec.Folder.Items = nil
			folders = append(folders, *rec.Folder)
		case rec.Kind == KindItem && rec.Item != nil:
			if err := v.CheckItem(*rec.Item); err != nil {
				return nil, nil, fmt.Errorf("invalid item at line %d: %w", lineNum, err)
			}
			rec.Item.IconURL = ""
			items = append(items, *rec.Item)
		default:
			return nil, nil, fmt.Errorf("invalid record at line %d: kind %q", lineNum, rec.Kind)
		}
	}

	return folders, items, nil
}

// FromJSONL reads a dump file.
func FromJSONL(path string) ([]schema.Folder, []schema.Item, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()
	return Read(file, nil)
}

// Import loads the dump at path into store. Folders are written before items
// so every folder an item names exists when the items are written.
func Import(ctx context.Context, store db.Store, path string, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	// Validate input file exists
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	folders, items, err := Read(file, opts.Validator)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}
	if err := checkUnique(folders, items); err != nil {
		return nil, err
	}
	if err := checkFolderRefs(ctx, store, folders, items); err != nil {
		return nil, err
	}
	result.Folders = len(folders)
	result.Items = len(items)

	if opts.DryRun {
		return result, nil
	}

	// Create backup if requested
	if opts.Backup {
		backupPath := path + ".backup." + time.Now().Format("20060102-150405")
		if _, err := ExportFile(ctx, store, backupPath); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	upsert := db.UpsertOptions{Renumber: opts.Renumber}
	if len(folders) > 0 {
		if err := store.UpsertFolders(ctx, folders, upsert); err != nil {
			return nil, fmt.Errorf("failed to import folders: %w", err)
		}
	}
	if len(items) > 0 {
		if err := store.UpsertItems(ctx, items, upsert); err != nil {
			return nil, fmt.Errorf("failed to import items: %w", err)
		}
	}

	result.Revision, err = store.Revision(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read revision: %w", err)
	}
	return result, nil
}

func checkUnique(folders []schema.Folder, items []schema.Item) error {
	seen := make(map[string]bool, len(folders))
	for _, f := range folders {
		if seen[f.ID] {
			return fmt.Errorf("duplicate folder %s", f.ID)
		}
		seen[f.ID] = true
	}
	seen = make(map[string]bool, len(items))
	for _, i := range items {
		if seen[i.ID] {
			return fmt.Errorf("duplicate item %s", i.ID)
		}
		seen[i.ID] = true
	}
	return nil
}

// checkFolderRefs rejects items whose folder is neither in the dump nor in
// the store.
func checkFolderRefs(ctx context.Context, store db.Store, folders []schema.Folder, items []schema.Item) error {
	dumped := make(map[string]bool, len(folders))
	for _, f := range folders {
		dumped[f.ID] = true
	}
	var refs []string
	for _, item := range items {
		if item.FolderID != nil && !dumped[*item.FolderID] {
			refs = append(refs, *item.FolderID)
		}
	}
	if len(refs) == 0 {
		return nil
	}
	missing, err := store.MissingFolders(ctx, refs)
	if err != nil {
		return fmt.Errorf("failed to check folders: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("items reference unknown folders: %v", missing)
	}
	return nil
}
