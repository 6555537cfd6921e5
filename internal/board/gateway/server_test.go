package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/launchboard/internal/board/assets"
	"github.com/steveyegge/launchboard/internal/board/db"
	"github.com/steveyegge/launchboard/internal/board/metrics"
	"github.com/steveyegge/launchboard/internal/board/schema"
	boardsync "github.com/steveyegge/launchboard/internal/board/sync"
)

type testBoard struct {
	srv    *httptest.Server
	gw     *Server
	hub    *Hub
	store  db.Store
	engine *boardsync.Engine
}

type boardOption func(*boardsync.Config, *Config)

func startBoard(t *testing.T, store db.Store, opts ...boardOption) *testBoard {
	t.Helper()
	if store == nil {
		store = db.NewMemory()
	}
	engineCfg := boardsync.DefaultConfig()
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(engineCfg, cfg)
	}

	hub := NewHub(nil)
	var signer boardsync.AssetSigner
	if cfg.Assets != nil {
		signer = cfg.Assets
	}
	engine := boardsync.New(store, hub, signer, engineCfg)
	gw := NewServer(engine, hub, cfg)
	srv := httptest.NewServer(gw.Handler())

	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gw.Stop() })
	return &testBoard{srv: srv, gw: gw, hub: hub, store: store, engine: engine}
}

func withLocalAssets(t *testing.T) boardOption {
	local, err := assets.NewLocalFs(afero.NewMemMapFs(), assets.Options{Secret: []byte("s"), PublicURL: "http://board.test"})
	require.NoError(t, err)
	return func(_ *boardsync.Config, cfg *Config) { cfg.Assets = local }
}

func (b *testBoard) dial(t *testing.T, ctx context.Context) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(b.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	env := readEnvelope(t, ctx, conn)
	require.Equal(t, schema.EventHello, env.Type)
	var hello schema.HelloEvent
	require.NoError(t, json.Unmarshal(env.Data, &hello))
	require.NotEmpty(t, hello.SessionID)
	return conn, hello.SessionID
}

func (b *testBoard) waitForSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.hub.Count() == n }, 5*time.Second, 10*time.Millisecond)
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) schema.Envelope {
	t.Helper()
	var env schema.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ schema.EventType, payload string) {
	t.Helper()
	frame := `{"type":"` + string(typ) + `","data":` + payload + `}`
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLiveChannel_BroadcastsToAllSessions(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil)

	c1, _ := b.dial(t, ctx)
	c2, _ := b.dial(t, ctx)
	b.waitForSessions(t, 2)

	send(t, ctx, c1, schema.EventAddFolder, `{"id":"f1","name":"Work","isOpen":true,"order":0}`)

	for _, conn := range []*websocket.Conn{c1, c2} {
		env := readEnvelope(t, ctx, conn)
		require.Equal(t, schema.EventUpdateState, env.Type)
		require.False(t, env.Timestamp.IsZero())

		var update schema.StateUpdate
		require.NoError(t, json.Unmarshal(env.Data, &update))
		require.Nil(t, update.Items)
		require.Len(t, *update.Folders, 1)
		require.Equal(t, "Work", (*update.Folders)[0].Name)
	}
}

func TestLiveChannel_SequentialIntentsKeepOrder(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil)
	c1, _ := b.dial(t, ctx)
	b.waitForSessions(t, 1)

	for i, title := range []string{"one", "two", "three"} {
		send(t, ctx, c1, schema.EventUpdateItems,
			`[{"id":"i1","title":"`+title+`","icon":"a","folderId":null,"order":`+strconv.Itoa(i)+`}]`)
	}

	var last schema.StateUpdate
	for i := 0; i < 3; i++ {
		env := readEnvelope(t, ctx, c1)
		var update schema.StateUpdate
		require.NoError(t, json.Unmarshal(env.Data, &update))
		require.Greater(t, update.Revision, last.Revision)
		last = update
	}
	require.Equal(t, "three", (*last.Items)[0].Title)
}

func TestLiveChannel_ValidationErrorIsBroadcast(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil)
	c1, _ := b.dial(t, ctx)
	c2, _ := b.dial(t, ctx)
	b.waitForSessions(t, 2)

	send(t, ctx, c1, schema.EventAddItem, `{"id":"i1","icon":"a","folderId":null,"order":0}`)

	for _, conn := range []*websocket.Conn{c1, c2} {
		env := readEnvelope(t, ctx, conn)
		require.Equal(t, schema.EventError, env.Type)
		var ev schema.ErrorEvent
		require.NoError(t, json.Unmarshal(env.Data, &ev))
		require.Equal(t, schema.CategoryValidation, ev.Category)
	}
	items, _ := b.store.ListItems(ctx)
	require.Empty(t, items)
}

func TestLiveChannel_ErrorsToOrigin(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil, func(ec *boardsync.Config, _ *Config) { ec.ErrorScope = boardsync.ErrorsToOrigin })
	c1, _ := b.dial(t, ctx)
	c2, _ := b.dial(t, ctx)
	b.waitForSessions(t, 2)

	send(t, ctx, c1, schema.EventAddFolder, `{"id":"f1"}`)
	require.Equal(t, schema.EventError, readEnvelope(t, ctx, c1).Type)

	// c2 sees the next successful broadcast first, not the error.
	send(t, ctx, c1, schema.EventAddFolder, `{"id":"f1","name":"A","isOpen":false,"order":0}`)
	require.Equal(t, schema.EventUpdateState, readEnvelope(t, ctx, c2).Type)
}

func TestLiveChannel_MalformedFrame(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil)
	c1, _ := b.dial(t, ctx)
	b.waitForSessions(t, 1)

	require.NoError(t, c1.Write(ctx, websocket.MessageText, []byte(`{{{`)))
	env := readEnvelope(t, ctx, c1)
	require.Equal(t, schema.EventError, env.Type)

	// The session survives a bad frame.
	send(t, ctx, c1, schema.EventAddFolder, `{"id":"f1","name":"A","isOpen":false,"order":0}`)
	require.Equal(t, schema.EventUpdateState, readEnvelope(t, ctx, c1).Type)
}

func TestLiveChannel_DisconnectRemovesSession(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil)
	c1, _ := b.dial(t, ctx)
	b.waitForSessions(t, 1)

	require.NoError(t, c1.Close(websocket.StatusNormalClosure, "bye"))
	b.waitForSessions(t, 0)
}

func TestLiveChannel_OriginCheck(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil, func(_ *boardsync.Config, cfg *Config) { cfg.AllowedOrigin = "http://good.test" })
	url := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"

	_, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.test"}},
	})
	require.Error(t, err)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://good.test"}},
	})
	require.NoError(t, err)
	_ = conn.Close(websocket.StatusNormalClosure, "")

	b.gw.SetAllowedOrigin("http://evil.test")
	conn, _, err = websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.test"}},
	})
	require.NoError(t, err)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func TestInitialState_Empty(t *testing.T) {
	b := startBoard(t, nil)

	for _, path := range []string{"/initial-state", "/api/initial-state"} {
		resp, err := http.Get(b.srv.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		require.JSONEq(t, `{"items":[],"folders":[],"revision":0}`, string(body))
	}
}

func TestInitialState_Populated(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil)
	require.NoError(t, b.store.CreateFolder(ctx, schema.Folder{ID: "f1", Name: "A", Order: 0}))
	require.NoError(t, b.store.CreateItem(ctx, schema.Item{ID: "i1", Title: "X", Icon: "a", FolderID: schema.FolderRef("f1")}))
	require.NoError(t, b.store.CreateItem(ctx, schema.Item{ID: "i2", Title: "Y", Icon: "b", Order: 1}))

	resp, err := http.Get(b.srv.URL + "/initial-state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var state schema.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	require.Len(t, state.Items, 2)
	require.Len(t, state.Folders, 1)
	require.Equal(t, "i1", state.Folders[0].Items[0].ID)
	require.EqualValues(t, 3, state.Revision)
}

type brokenStore struct {
	db.Store
}

func (brokenStore) ListItems(context.Context) ([]schema.Item, error) {
	return nil, schema.Persistence("list items", errors.New("connection refused"))
}

func TestInitialState_StoreFailure(t *testing.T) {
	b := startBoard(t, brokenStore{Store: db.NewMemory()})

	resp, err := http.Get(b.srv.URL + "/initial-state")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.JSONEq(t, `{"error":"Failed to fetch initial state"}`, string(body))
}

func TestCORS(t *testing.T) {
	b := startBoard(t, nil, func(_ *boardsync.Config, cfg *Config) { cfg.AllowedOrigin = "http://localhost:3000" })

	req, _ := http.NewRequest(http.MethodOptions, b.srv.URL+"/api/initial-state", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestHealthAndMetrics(t *testing.T) {
	ctx := testContext(t)
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.BoardCollectors()...)
	b := startBoard(t, nil, func(_ *boardsync.Config, cfg *Config) { cfg.Gatherer = registry })
	b.dial(t, ctx)
	b.waitForSessions(t, 1)

	resp, err := http.Get(b.srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "ok", health["status"])
	require.EqualValues(t, 1, health["clients"])

	resp, err = http.Get(b.srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), metrics.SessionsKey)
}

type uploadPart struct {
	fields      map[string]string
	filename    string
	contentType string
	content     []byte
}

func postUpload(t *testing.T, b *testBoard, part uploadPart) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range part.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if part.filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="icon"; filename="`+part.filename+`"`)
		h.Set("Content-Type", part.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(part.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(b.srv.URL+"/api/items", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestUpload(t *testing.T) {
	ctx := testContext(t)
	b := startBoard(t, nil, withLocalAssets(t))
	conn, _ := b.dial(t, ctx)
	b.waitForSessions(t, 1)

	fields := map[string]string{"id": "i1", "title": "Cat", "order": "2"}
	status, body := postUpload(t, b, uploadPart{fields: fields, filename: "cat.png", contentType: "image/png", content: []byte("png")})
	require.Equal(t, http.StatusOK, status, string(body))

	var created schema.Item
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, "i1", created.ID)
	require.Equal(t, 2, created.Order)
	require.Nil(t, created.FolderID)
	require.True(t, strings.HasPrefix(created.Icon, schema.AssetPrefix+"icons/"), created.Icon)
	require.True(t, strings.HasPrefix(created.IconURL, "http://board.test/assets/icons/"), created.IconURL)

	// The uploading client announces the item; everyone gets newItem.
	send(t, ctx, conn, schema.EventAddItem, `"i1"`)
	env := readEnvelope(t, ctx, conn)
	require.Equal(t, schema.EventNewItem, env.Type)
	var ev schema.NewItemEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	require.Equal(t, "Cat", ev.NewItem.Title)
	require.NotEmpty(t, ev.NewItem.IconURL)

	// Same id again.
	status, _ = postUpload(t, b, uploadPart{fields: fields, filename: "cat.png", contentType: "image/png", content: []byte("png")})
	require.Equal(t, http.StatusConflict, status)
}

func TestUpload_Rejections(t *testing.T) {
	b := startBoard(t, nil, withLocalAssets(t))
	fields := map[string]string{"id": "i1", "title": "Cat", "order": "0"}

	tests := []struct {
		name    string
		part    uploadPart
		wantErr string
	}{
		{"no file", uploadPart{fields: fields}, "Icon file is required"},
		{"wrong type", uploadPart{fields: fields, filename: "cat.gif", contentType: "image/gif", content: []byte("gif")}, "Invalid file type"},
		{"too large", uploadPart{fields: fields, filename: "big.png", contentType: "image/png", content: make([]byte, assets.MaxIconBytes+1)}, "too large"},
		{"bad order", uploadPart{fields: map[string]string{"id": "i1", "title": "Cat", "order": "x"}, filename: "c.png", contentType: "image/png", content: []byte("p")}, "validation"},
		{"missing title", uploadPart{fields: map[string]string{"id": "i1", "order": "0"}, filename: "c.png", contentType: "image/png", content: []byte("p")}, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postUpload(t, b, tt.part)
			require.Equal(t, http.StatusBadRequest, status, string(body))
			require.Contains(t, string(body), tt.wantErr)
		})
	}

	items, _ := b.store.ListItems(context.Background())
	require.Empty(t, items)
}

func TestUpload_DisabledWithoutAssets(t *testing.T) {
	b := startBoard(t, nil)
	status, _ := postUpload(t, b, uploadPart{fields: map[string]string{"id": "i1"}})
	require.Equal(t, http.StatusNotFound, status)
}

func TestOriginPatterns(t *testing.T) {
	require.Equal(t, []string{"*"}, originPatterns(""))
	require.Equal(t, []string{"*"}, originPatterns("*"))
	require.Equal(t, []string{"localhost:3000"}, originPatterns("http://localhost:3000"))
	require.Equal(t, []string{"board.example.com"}, originPatterns("board.example.com"))
}
