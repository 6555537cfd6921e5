// Package client is a Go client of the board's live channel.
//
// Dial bootstraps the way a browser session does: it opens the live channel
// first, then fetches the full state once, then applies live events on top.
// Events that arrive during the fetch are held until the fetch is applied;
// revision gating in View makes any that are older than the fetch no-ops.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

// Options configures a Client.
type Options struct {
	// HTTPClient is used for the bootstrap fetch and the websocket handshake
	// (default: http.DefaultClient).
	HTTPClient *http.Client

	// OnEvent is called from the read loop after each server event has been
	// applied to the view.
	OnEvent func(schema.Envelope)

	// Logger defaults to the standard logrus logger.
	Logger *log.Entry
}

// Client is one live session.
type Client struct {
	base      *url.URL
	conn      *websocket.Conn
	view      *View
	sessionID string
	opts      Options

	ready chan struct{}
	done  chan struct{}

	mu  sync.Mutex
	err error

	cancel context.CancelFunc
	log    *log.Entry
}

// Dial connects to the board server at baseURL (e.g. "http://localhost:3001")
// and performs the bootstrap. The returned client stays connected until Close
// or until the server drops it; ctx only bounds the dial.
func Dial(ctx context.Context, baseURL string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	o := *opts
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = log.WithField("component", "client")
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing base url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("base url must be http or https, got %q", baseURL)
	}

	wsURL := *base
	wsURL.Scheme = strings.Replace(base.Scheme, "http", "ws", 1)
	wsURL.Path += "/ws"

	conn, _, err := websocket.Dial(ctx, wsURL.String(), &websocket.DialOptions{HTTPClient: o.HTTPClient})
	if err != nil {
		return nil, errors.Wrap(err, "connecting live channel")
	}
	conn.SetReadLimit(16 << 20)

	var hello schema.Envelope
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "")
		return nil, errors.Wrap(err, "reading hello")
	}
	var greeting schema.HelloEvent
	if hello.Type != schema.EventHello || json.Unmarshal(hello.Data, &greeting) != nil {
		_ = conn.Close(websocket.StatusProtocolError, "")
		return nil, errors.Errorf("expected hello, got %q", hello.Type)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		base:      base,
		conn:      conn,
		view:      NewView(),
		sessionID: greeting.SessionID,
		opts:      o,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		cancel:    cancel,
		log:       o.Logger.WithField("session", greeting.SessionID),
	}
	go c.readLoop(loopCtx)

	state, err := c.FetchState(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.view.ApplyState(state)
	close(c.ready)

	return c, nil
}

// FetchState performs the bootstrap fetch without touching the view.
func (c *Client) FetchState(ctx context.Context) (schema.State, error) {
	var state schema.State

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/initial-state", nil)
	if err != nil {
		return state, errors.Wrap(err, "building request")
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return state, errors.Wrap(err, "fetching initial state")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return state, errors.Errorf("fetching initial state: %s: %s", resp.Status, body.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return state, errors.Wrap(err, "decoding initial state")
	}
	return state, nil
}

// SessionID returns the id the server assigned to this session.
func (c *Client) SessionID() string { return c.sessionID }

// View returns the local copy of the board.
func (c *Client) View() *View { return c.view }

// Done is closed when the live channel is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the live channel closed, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close leaves the board.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return err
}

// AddItem creates a new item.
func (c *Client) AddItem(ctx context.Context, item schema.Item) error {
	item.IconURL = ""
	return c.send(ctx, schema.EventAddItem, item)
}

// AddItemByID announces an item that was created by an icon upload.
func (c *Client) AddItemByID(ctx context.Context, id string) error {
	return c.send(ctx, schema.EventAddItem, id)
}

// AddFolder creates a new folder.
func (c *Client) AddFolder(ctx context.Context, folder schema.Folder) error {
	folder.Items = nil
	return c.send(ctx, schema.EventAddFolder, folder)
}

// UpdateItems submits the given items as a single batch.
func (c *Client) UpdateItems(ctx context.Context, items []schema.Item) error {
	out := schema.CloneItems(items)
	for i := range out {
		out[i].IconURL = ""
	}
	if out == nil {
		out = []schema.Item{}
	}
	return c.send(ctx, schema.EventUpdateItems, out)
}

// UpdateFolders submits the given folders as a single batch.
func (c *Client) UpdateFolders(ctx context.Context, folders []schema.Folder) error {
	out := make([]schema.Folder, len(folders))
	for i, f := range folders {
		f.Items = nil
		out[i] = f
	}
	return c.send(ctx, schema.EventUpdateFolders, out)
}

func (c *Client) send(ctx context.Context, typ schema.EventType, payload interface{}) error {
	env, err := schema.NewEnvelope(typ, payload)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", typ)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return errors.Wrapf(wsjson.Write(ctx, c.conn, env), "sending %s", typ)
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)

	for {
		var env schema.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				c.log.WithError(err).Warn("live channel closed")
			}
			return
		}

		select {
		case <-c.ready:
		case <-ctx.Done():
			return
		}
		c.apply(env)
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(env)
		}
	}
}

func (c *Client) apply(env schema.Envelope) {
	switch env.Type {
	case schema.EventUpdateState:
		var update schema.StateUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			c.log.WithError(err).Warn("bad updateState payload")
			return
		}
		c.view.ApplyUpdate(update)
	case schema.EventNewItem:
		var ev schema.NewItemEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.log.WithError(err).Warn("bad newItem payload")
			return
		}
		c.view.ApplyNewItem(ev.NewItem)
	case schema.EventError:
		var ev schema.ErrorEvent
		_ = json.Unmarshal(env.Data, &ev)
		c.log.WithFields(log.Fields{"category": ev.Category}).Warn(ev.Message)
	default:
		c.log.WithField("event", env.Type).Debug("ignoring event")
	}
}
