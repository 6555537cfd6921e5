// Package assets stores uploaded item icons and issues short-lived URLs
// for them.
//
// Two backends exist. The S3 backend writes objects with the AWS SDK and
// hands out presigned GET URLs. The local backend writes into a directory
// and signs its own URLs with an HS256 token that the board server checks
// when serving /assets/.
//
// Backends are selected by URL:
//
//	s3://bucket/prefix/?region=eu-west-1&endpoint=http://minio:9000
//	file:///var/lib/board/assets
package assets

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxIconBytes is the largest icon accepted by the upload endpoint.
const MaxIconBytes = 5 << 20

// AllowedContentTypes lists the accepted icon media types.
var AllowedContentTypes = map[string]bool{
	"image/png":     true,
	"image/jpeg":    true,
	"image/svg+xml": true,
}

// Store persists icon objects and signs URLs for reading them.
type Store interface {
	// Put writes body under key.
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
	// SignGet returns a URL that grants read access to key for ttl.
	SignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Options configures Open.
type Options struct {
	// Secret signs local asset URLs. A random secret is generated when empty,
	// which invalidates outstanding URLs on restart.
	Secret []byte
	// PublicURL is the externally visible base URL of the board server,
	// used to build local asset URLs.
	PublicURL string
}

// Open returns the asset store named by rawURL, or nil when rawURL is empty.
func Open(ctx context.Context, rawURL string, opts Options) (Store, error) {
	if rawURL == "" {
		return nil, nil
	}
	ep, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing asset store url")
	}
	switch ep.Scheme {
	case "s3":
		s, err := NewS3(ep)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		dir := ep.Host + ep.Path
		if ep.Opaque != "" {
			dir = ep.Opaque
		}
		l, err := NewLocal(dir, opts)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported asset store scheme %q", ep.Scheme)
	}
}

// IconKey builds the object key for an uploaded icon.
func IconKey(filename string, now time.Time) string {
	name := sanitizeName(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	short := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return "icons/" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + short + "-" + name
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "icon"
	}
	return out
}
