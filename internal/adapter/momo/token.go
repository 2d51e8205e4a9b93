package momo

import (
	stdcontext "context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yourorg/payment-confirmation/internal/adapter"
)

// TokenSource yields the bearer token issued by the identity provider.
type TokenSource interface {
	Token(ctx stdcontext.Context) (string, error)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

func (s StaticTokenSource) Token(stdcontext.Context) (string, error) {
	if s == "" {
		return "", adapter.ErrMissingToken
	}
	return string(s), nil
}

// FetchFunc obtains a fresh token and its lifetime.
type FetchFunc func(ctx stdcontext.Context) (token string, ttl time.Duration, err error)

// CachingTokenSource caches a fetched token until shortly before it expires.
// Concurrent callers hitting an expired cache share a single fetch.
type CachingTokenSource struct {
	fetch  FetchFunc
	leeway time.Duration
	now    func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	token   string
	expires time.Time
}

// NewCachingTokenSource wraps fetch; leeway is subtracted from every ttl.
func NewCachingTokenSource(fetch FetchFunc, leeway time.Duration) *CachingTokenSource {
	return &CachingTokenSource{fetch: fetch, leeway: leeway, now: time.Now}
}

func (c *CachingTokenSource) Token(ctx stdcontext.Context) (string, error) {
	c.mu.RLock()
	token, expires := c.token, c.expires
	c.mu.RUnlock()
	if token != "" && c.now().Before(expires) {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		tok, ttl, err := c.fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", adapter.ErrMissingToken, err)
		}
		if tok == "" {
			return "", adapter.ErrMissingToken
		}
		c.mu.Lock()
		c.token = tok
		c.expires = c.now().Add(ttl - c.leeway)
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the backend answered 401.
func (c *CachingTokenSource) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}
