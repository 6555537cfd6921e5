package assets

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestIconKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	key := IconKey("My Cat.png", now)
	require.True(t, strings.HasPrefix(key, "icons/1700000000123-"), key)
	require.True(t, strings.HasSuffix(key, "-My_Cat.png"), key)

	require.True(t, strings.HasSuffix(IconKey("../../etc/passwd", now), "-passwd"))
	require.True(t, strings.HasSuffix(IconKey(`C:\Users\me\logo.svg`, now), "-logo.svg"))
	require.True(t, strings.HasSuffix(IconKey("...", now), "-icon"))
	require.NotEqual(t, IconKey("a.png", now), IconKey("a.png", now))
}

func TestCheckKey(t *testing.T) {
	for _, bad := range []string{"", "/etc/passwd", "../x", "icons/../../x", "icons//x"} {
		require.Error(t, checkKey(bad), bad)
	}
	require.NoError(t, checkKey("icons/1-a.png"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "", Options{})
	require.NoError(t, err)
	require.Nil(t, s)

	dir := filepath.Join(t.TempDir(), "assets")
	s, err = Open(ctx, "file://"+dir, Options{Secret: []byte("k")})
	require.NoError(t, err)
	require.IsType(t, &Local{}, s)

	_, err = Open(ctx, "gs://bucket/", Options{})
	require.Error(t, err)

	_, err = Open(ctx, "s3://bucket/?bogus=1", Options{})
	require.Error(t, err)
}

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocalFs(afero.NewMemMapFs(), Options{Secret: []byte("test-secret"), PublicURL: "http://board.test/"})
	require.NoError(t, err)
	return l
}

func TestLocal_PutSignServe(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	body := []byte("\x89PNG fake image")
	require.NoError(t, l.Put(ctx, "icons/1-a.png", bytes.NewReader(body), "image/png"))

	signed, err := l.SignGet(ctx, "icons/1-a.png", time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed, "http://board.test/assets/icons/1-a.png?token="), signed)

	u, err := url.Parse(signed)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, body, rec.Body.Bytes())
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	// A token is bound to its key.
	other := "/assets/icons/2-b.png?" + u.RawQuery
	require.NoError(t, l.Put(ctx, "icons/2-b.png", bytes.NewReader(body), "image/png"))
	rec = httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, other, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/icons/1-a.png", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLocal_ExpiredAndForeignTokens(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)
	require.NoError(t, l.Put(ctx, "icons/1-a.png", strings.NewReader("x"), "image/png"))

	expired, err := l.SignGet(ctx, "icons/1-a.png", -time.Minute)
	require.NoError(t, err)
	u, _ := url.Parse(expired)
	rec := httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	stranger, err := NewLocalFs(afero.NewMemMapFs(), Options{Secret: []byte("other")})
	require.NoError(t, err)
	foreign, err := stranger.SignGet(ctx, "icons/1-a.png", time.Minute)
	require.NoError(t, err)
	u, _ = url.Parse(foreign)
	rec = httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLocal_MissingObject(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)
	signed, err := l.SignGet(ctx, "icons/none.png", time.Minute)
	require.NoError(t, err)
	u, _ := url.Parse(signed)

	rec := httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// fakeS3 records the PUT requests it receives.
type fakeS3 struct {
	mu   sync.Mutex
	reqs []*http.Request
	body [][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.reqs = append(f.reqs, r)
	f.body = append(f.body, data)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func newTestS3(t *testing.T, endpoint string) *S3 {
	t.Helper()
	sess, err := session.NewSession(aws.NewConfig().
		WithRegion("us-east-1").
		WithEndpoint(endpoint).
		WithS3ForcePathStyle(true).
		WithCredentials(credentials.NewStaticCredentials("AKID", "SECRET", "")))
	require.NoError(t, err)
	return newS3(s3.New(sess), "board-icons", "prod/", S3Args{})
}

func TestS3_Put(t *testing.T) {
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store := newTestS3(t, srv.URL)
	require.NoError(t, store.Put(context.Background(), "icons/1-a.svg", strings.NewReader("<svg/>"), "image/svg+xml"))

	require.Len(t, fake.reqs, 1)
	req := fake.reqs[0]
	require.Equal(t, http.MethodPut, req.Method)
	require.Equal(t, "/board-icons/prod/icons/1-a.svg", req.URL.Path)
	require.Equal(t, "image/svg+xml", req.Header.Get("Content-Type"))
	require.Equal(t, "max-age=31536000", req.Header.Get("Cache-Control"))
	require.Equal(t, "<svg/>", string(fake.body[0]))
}

func TestS3_SignGet(t *testing.T) {
	store := newTestS3(t, "http://s3.test")
	signed, err := store.SignGet(context.Background(), "icons/1-a.png", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "/board-icons/prod/icons/1-a.png", u.Path)
	require.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	require.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestParseS3Args(t *testing.T) {
	ep, _ := url.Parse("s3://bucket/prefix/?region=eu-west-1&endpoint=http://minio:9000&cacheControl=no-cache")
	var args S3Args
	require.NoError(t, parseS3Args(ep, &args))
	require.Equal(t, S3Args{Region: "eu-west-1", Endpoint: "http://minio:9000", CacheControl: "no-cache"}, args)
}
