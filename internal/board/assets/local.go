package assets

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// LocalPathPrefix is the route under which Local serves assets.
const LocalPathPrefix = "/assets/"

// Local is an asset Store backed by a directory. It signs its own read URLs
// and serves them through ServeHTTP.
type Local struct {
	fs        afero.Fs
	secret    []byte
	publicURL string
}

// NewLocal creates a local store rooted at dir.
func NewLocal(dir string, opts Options) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local asset store needs a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating asset directory %s", dir)
	}
	return NewLocalFs(afero.NewBasePathFs(afero.NewOsFs(), dir), opts)
}

// NewLocalFs creates a local store on top of an arbitrary filesystem.
func NewLocalFs(fs afero.Fs, opts Options) (*Local, error) {
	secret := opts.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, errors.Wrap(err, "generating asset signing secret")
		}
		log.Warn("no asset signing secret configured; signed asset urls will not survive a restart")
	}
	return &Local{
		fs:        fs,
		secret:    secret,
		publicURL: strings.TrimSuffix(opts.PublicURL, "/"),
	}, nil
}

// Put implements Store.Put.
func (l *Local) Put(_ context.Context, key string, body io.ReadSeeker, _ string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := l.fs.MkdirAll(path.Dir(key), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", key)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "rewinding upload")
	}
	f, err := l.fs.Create(key)
	if err != nil {
		return errors.Wrapf(err, "creating %s", key)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %s", key)
	}
	return errors.Wrapf(f.Close(), "closing %s", key)
}

// SignGet implements Store.SignGet.
func (l *Local) SignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString(l.secret)
	if err != nil {
		return "", errors.Wrap(err, "signing asset token")
	}
	return l.publicURL + LocalPathPrefix + key + "?token=" + url.QueryEscape(token), nil
}

// ServeHTTP serves an asset named by the path below LocalPathPrefix when the
// token query parameter grants access to it.
func (l *Local) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, LocalPathPrefix)
	if err := checkKey(key); err != nil {
		http.NotFound(w, r)
		return
	}
	if err := l.verify(key, r.URL.Query().Get("token")); err != nil {
		log.WithFields(log.Fields{"key": key, "err": err}).Debug("rejected asset request")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	f, err := l.fs.Open(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}

func (l *Local) verify(key, token string) error {
	if token == "" {
		return errors.New("missing token")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return l.secret, nil },
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithSubject(key),
		jwt.WithLeeway(5*time.Second),
	)
	return err
}

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return fmt.Errorf("invalid asset key %q", key)
	}
	return nil
}
