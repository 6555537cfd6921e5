package sync

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/steveyegge/launchboard/internal/board/db"
	"github.com/steveyegge/launchboard/internal/board/metrics"
	"github.com/steveyegge/launchboard/internal/board/schema"
	"github.com/steveyegge/launchboard/internal/board/validate"
)

// Broadcaster delivers server events to live sessions.
type Broadcaster interface {
	// Broadcast queues env for every connected session.
	Broadcast(env schema.Envelope)
	// SendTo queues env for one session and reports whether it was queued.
	SendTo(sessionID string, env schema.Envelope) bool
}

// AssetSigner issues short-lived URLs for stored icon assets.
type AssetSigner interface {
	SignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Engine applies client intents to the store and broadcasts the result.
type Engine struct {
	store     db.Store
	hub       Broadcaster
	signer    AssetSigner
	validator *validate.Validator
	cfg       Config
	log       *log.Entry
}

// New builds an Engine. signer may be nil when no asset store is configured;
// cfg may be nil for DefaultConfig().
func New(store db.Store, hub Broadcaster, signer AssetSigner, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		store:     store,
		hub:       hub,
		signer:    signer,
		validator: cfg.Validator,
		cfg:       *cfg,
		log:       cfg.Logger,
	}
	if e.validator == nil {
		e.validator = validate.MustNew()
	}
	if e.log == nil {
		e.log = log.WithField("component", "sync")
	}
	if e.cfg.OrderPolicy == "" {
		e.cfg.OrderPolicy = OrderPreserve
	}
	if e.cfg.ErrorScope == "" {
		e.cfg.ErrorScope = ErrorsToAll
	}
	if e.cfg.SignedURLTTL <= 0 {
		e.cfg.SignedURLTTL = time.Hour
	}
	return e
}

// Validator returns the validator used for inbound payloads.
func (e *Engine) Validator() *validate.Validator { return e.validator }

// HandleFrame decodes a raw live-channel frame from session origin and
// dispatches it. Malformed frames are reported like any failed intent.
func (e *Engine) HandleFrame(ctx context.Context, origin string, frame []byte) error {
	env, err := e.validator.Envelope(frame)
	if err != nil {
		metrics.IntentsTotal.WithLabelValues("invalid", metrics.Fail).Inc()
		e.report(origin, "", err)
		return err
	}
	return e.Dispatch(ctx, origin, env)
}

// Dispatch runs one intent end to end. The returned error has already been
// logged and announced with an error event.
func (e *Engine) Dispatch(ctx context.Context, origin string, env schema.Envelope) error {
	start := time.Now()

	intent, err := e.validator.Intent(env)
	if err == nil {
		err = e.apply(ctx, intent)
	}

	metrics.IntentsTotal.WithLabelValues(string(env.Type), metrics.Status(err)).Inc()
	metrics.IntentDurationSeconds.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		e.report(origin, env.Type, err)
		return err
	}
	e.log.WithFields(log.Fields{
		"event":    env.Type,
		"origin":   origin,
		"duration": time.Since(start),
	}).Debug("applied intent")
	return nil
}

// AddItem handles an addItem payload: a full item object, or the id of an
// item already written by the upload endpoint.
func (e *Engine) AddItem(ctx context.Context, origin string, raw json.RawMessage) error {
	return e.Dispatch(ctx, origin, schema.Envelope{Type: schema.EventAddItem, Data: raw})
}

// AddFolder handles an addFolder payload.
func (e *Engine) AddFolder(ctx context.Context, origin string, raw json.RawMessage) error {
	return e.Dispatch(ctx, origin, schema.Envelope{Type: schema.EventAddFolder, Data: raw})
}

// UpdateItems handles an updateItems payload.
func (e *Engine) UpdateItems(ctx context.Context, origin string, raw json.RawMessage) error {
	return e.Dispatch(ctx, origin, schema.Envelope{Type: schema.EventUpdateItems, Data: raw})
}

// UpdateFolders handles an updateFolders payload.
func (e *Engine) UpdateFolders(ctx context.Context, origin string, raw json.RawMessage) error {
	return e.Dispatch(ctx, origin, schema.Envelope{Type: schema.EventUpdateFolders, Data: raw})
}

func (e *Engine) apply(ctx context.Context, intent validate.Intent) error {
	switch in := intent.(type) {
	case validate.AddItemFull:
		return e.createItem(ctx, in.Item)
	case validate.AddItemByID:
		return e.announceItem(ctx, in.ID)
	case validate.AddFolder:
		return e.createFolder(ctx, in.Folder)
	case validate.UpdateItems:
		return e.upsertItems(ctx, in.Items)
	case validate.UpdateFolders:
		return e.upsertFolders(ctx, in.Folders)
	default:
		return errors.Errorf("unhandled intent %T", intent)
	}
}

func (e *Engine) createItem(ctx context.Context, item schema.Item) error {
	if err := e.checkFolderRefs(ctx, []schema.Item{item}, false); err != nil {
		return err
	}
	if err := e.store.CreateItem(ctx, item); err != nil {
		return err
	}
	return e.broadcastItems(ctx)
}

func (e *Engine) announceItem(ctx context.Context, id string) error {
	item, ok, err := e.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return &schema.NotFoundError{Kind: "item", ID: id}
	}
	if key, isAsset := item.AssetKey(); isAsset {
		if e.signer == nil {
			return &schema.AssetError{Op: "sign icon url", Err: errors.New("no asset store configured")}
		}
		url, err := e.signer.SignGet(ctx, key, e.cfg.SignedURLTTL)
		if err != nil {
			return &schema.AssetError{Op: "sign icon url", Err: err}
		}
		item.IconURL = url
	}
	return e.broadcast(schema.EventNewItem, schema.NewItemEvent{NewItem: item})
}

func (e *Engine) createFolder(ctx context.Context, folder schema.Folder) error {
	if err := e.store.CreateFolder(ctx, folder); err != nil {
		return err
	}
	return e.broadcastFolders(ctx)
}

func (e *Engine) upsertItems(ctx context.Context, items []schema.Item) error {
	if err := e.checkFolderRefs(ctx, items, true); err != nil {
		return err
	}
	if err := e.store.UpsertItems(ctx, items, e.upsertOptions()); err != nil {
		return err
	}
	return e.broadcastItems(ctx)
}

func (e *Engine) upsertFolders(ctx context.Context, folders []schema.Folder) error {
	if err := e.store.UpsertFolders(ctx, folders, e.upsertOptions()); err != nil {
		return err
	}
	return e.broadcastFolders(ctx)
}

func (e *Engine) upsertOptions() db.UpsertOptions {
	return db.UpsertOptions{Renumber: e.cfg.OrderPolicy == OrderDense}
}

// checkFolderRefs rejects items whose folderId names no existing folder.
func (e *Engine) checkFolderRefs(ctx context.Context, items []schema.Item, indexed bool) error {
	var ids []string
	for _, item := range items {
		if item.FolderID != nil {
			ids = append(ids, *item.FolderID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	missing, err := e.store.MissingFolders(ctx, ids)
	if err != nil || len(missing) == 0 {
		return err
	}

	unknown := make(map[string]bool, len(missing))
	for _, id := range missing {
		unknown[id] = true
	}
	verr := &schema.ValidationError{}
	for i, item := range items {
		if item.FolderID == nil || !unknown[*item.FolderID] {
			continue
		}
		field := "folderId"
		if indexed {
			field = strconv.Itoa(i) + "/folderId"
		}
		verr.Fields = append(verr.Fields, schema.FieldError{
			Field:   field,
			Message: "references unknown folder " + *item.FolderID,
		})
	}
	return verr
}

func (e *Engine) broadcastItems(ctx context.Context) error {
	update, err := e.itemsSnapshot(ctx)
	if err != nil {
		return err
	}
	return e.broadcast(schema.EventUpdateState, update)
}

func (e *Engine) broadcastFolders(ctx context.Context) error {
	update, err := e.foldersSnapshot(ctx)
	if err != nil {
		return err
	}
	return e.broadcast(schema.EventUpdateState, update)
}

func (e *Engine) broadcast(typ schema.EventType, payload interface{}) error {
	env, err := schema.NewEnvelope(typ, payload)
	if err != nil {
		return errors.Wrapf(err, "encoding %s event", typ)
	}
	e.hub.Broadcast(env)
	metrics.BroadcastsTotal.WithLabelValues(string(typ)).Inc()
	return nil
}

// report logs a failed intent and emits the error event.
func (e *Engine) report(origin string, typ schema.EventType, err error) {
	category := schema.CategoryOf(err)
	entry := e.log.WithFields(log.Fields{
		"event":    typ,
		"origin":   origin,
		"category": category,
	}).WithError(err)

	switch category {
	case schema.CategoryValidation, schema.CategoryConflict, schema.CategoryNotFound:
		entry.Warn("rejected intent")
	default:
		entry.Error("intent failed")
	}

	env, encErr := schema.NewEnvelope(schema.EventError, schema.ErrorEvent{
		Message:  schema.PublicMessage(actionOf(typ), err),
		Category: category,
	})
	if encErr != nil {
		entry.WithField("encodeError", encErr).Error("failed to encode error event")
		return
	}

	if e.cfg.ErrorScope == ErrorsToOrigin {
		if origin == "" || !e.hub.SendTo(origin, env) {
			entry.Debug("error event not delivered to origin")
		}
		return
	}
	e.hub.Broadcast(env)
	metrics.BroadcastsTotal.WithLabelValues(string(schema.EventError)).Inc()
}

func actionOf(typ schema.EventType) string {
	switch typ {
	case schema.EventAddItem:
		return "add item"
	case schema.EventAddFolder:
		return "add folder"
	case schema.EventUpdateItems:
		return "update items"
	case schema.EventUpdateFolders:
		return "update folders"
	default:
		return "process message"
	}
}
