package sync

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

// InitialState returns the full canonical board for a bootstrapping session.
func (e *Engine) InitialState(ctx context.Context) (schema.State, error) {
	rev, err := e.store.Revision(ctx)
	if err != nil {
		return schema.State{}, err
	}
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return schema.State{}, err
	}
	folders, err := e.store.ListFoldersWithItems(ctx)
	if err != nil {
		return schema.State{}, err
	}
	if items == nil {
		items = []schema.Item{}
	}
	if folders == nil {
		folders = []schema.Folder{}
	}
	e.resolveIcons(ctx, items)
	for i := range folders {
		e.resolveIcons(ctx, folders[i].Items)
	}
	return schema.State{Items: items, Folders: folders, Revision: rev}, nil
}

// CreateUploaded creates the row for an item whose icon was just stored by
// the upload endpoint. Nothing is broadcast: the uploading client announces
// the item with addItem(<id>) once it has the response.
func (e *Engine) CreateUploaded(ctx context.Context, item schema.Item) (schema.Item, error) {
	if err := e.validator.CheckItem(item); err != nil {
		return schema.Item{}, err
	}
	if err := e.checkFolderRefs(ctx, []schema.Item{item}, false); err != nil {
		return schema.Item{}, err
	}
	if err := e.store.CreateItem(ctx, item); err != nil {
		return schema.Item{}, err
	}
	created := []schema.Item{item}
	e.resolveIcons(ctx, created)
	return created[0], nil
}

// The revision is read before listing so the content of a snapshot is
// always at least as new as its label.
func (e *Engine) itemsSnapshot(ctx context.Context) (schema.StateUpdate, error) {
	rev, err := e.store.Revision(ctx)
	if err != nil {
		return schema.StateUpdate{}, err
	}
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return schema.StateUpdate{}, err
	}
	e.resolveIcons(ctx, items)
	return schema.ItemsUpdate(items, rev), nil
}

func (e *Engine) foldersSnapshot(ctx context.Context) (schema.StateUpdate, error) {
	rev, err := e.store.Revision(ctx)
	if err != nil {
		return schema.StateUpdate{}, err
	}
	folders, err := e.store.ListFoldersWithItems(ctx)
	if err != nil {
		return schema.StateUpdate{}, err
	}
	for i := range folders {
		e.resolveIcons(ctx, folders[i].Items)
	}
	return schema.FoldersUpdate(folders, rev), nil
}

// resolveIcons fills IconURL for asset icons. A signing failure leaves the
// URL empty; the snapshot is still delivered.
func (e *Engine) resolveIcons(ctx context.Context, items []schema.Item) {
	if e.signer == nil {
		return
	}
	for i := range items {
		key, ok := items[i].AssetKey()
		if !ok {
			continue
		}
		url, err := e.signer.SignGet(ctx, key, e.cfg.SignedURLTTL)
		if err != nil {
			e.log.WithFields(log.Fields{"item": items[i].ID, "key": key}).WithError(err).Warn("failed to sign icon url")
			continue
		}
		items[i].IconURL = url
	}
}
