// Package files turns stored object keys into retrievable URLs.
package files

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

var _ payout.URLResolver = (*BaseURLResolver)(nil)

// BaseURLResolver serves keys below a public base URL, such as a CDN or a
// bucket website endpoint.
type BaseURLResolver struct {
	base *url.URL
}

// NewBaseURLResolver parses base, which must be an absolute http(s) URL.
func NewBaseURLResolver(base string) (*BaseURLResolver, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute http(s)", base)
	}
	return &BaseURLResolver{base: u}, nil
}

// Resolve returns the URL of key. Keys that already are absolute URLs are
// returned unchanged.
func (r *BaseURLResolver) Resolve(_ context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("empty key")
	}
	if u, err := url.Parse(key); err == nil && u.IsAbs() {
		return key, nil
	}
	return r.base.JoinPath(strings.Split(strings.TrimLeft(key, "/"), "/")...).String(), nil
}
