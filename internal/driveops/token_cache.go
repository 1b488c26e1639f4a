package driveops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/onedrive-uploader/internal/graph"
	"github.com/tonimelisma/onedrive-uploader/internal/tokenfile"
)

// refreshKey is the single singleflight key: there is one token per cache.
const refreshKey = "access-token"

// TokenCache owns the current access token and its on-disk copy. Reads are
// concurrent; at most one refresh is in flight at any time and every caller
// waiting on it observes the same outcome.
type TokenCache struct {
	path     string
	provider TokenProvider
	logger   *slog.Logger

	// nowFunc is the validity clock. Tests override it.
	nowFunc func() time.Time

	mu      sync.RWMutex
	current *graph.AccessToken

	flight singleflight.Group
}

// NewTokenCache creates a cache backed by the file at path. provider may be
// nil for read-only use (whoami, logout); Token then fails with
// graph.ErrAuthFailure once the cached token has expired.
func NewTokenCache(path string, provider TokenProvider, logger *slog.Logger) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenCache{
		path:     path,
		provider: provider,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Path returns the cache file location.
func (c *TokenCache) Path() string { return c.path }

// IsValid reports whether tok is usable at now (epoch seconds). A nil or
// empty token is never valid.
func IsValid(tok *graph.AccessToken, now int64) bool {
	return tok != nil && tok.Value != "" && tok.ExpiresAt > now
}

// Load reads the persisted token. Returns ErrTokenNotFound when the file is
// absent. A corrupt or unreadable file is logged and reported as
// ErrTokenNotFound too, so the caller simply re-authorizes.
func (c *TokenCache) Load() (*graph.AccessToken, error) {
	rec, err := tokenfile.Load(c.path)
	if err != nil {
		c.logger.Warn("ignoring unusable token cache",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)

		return nil, ErrTokenNotFound
	}

	if rec == nil {
		return nil, ErrTokenNotFound
	}

	return &graph.AccessToken{
		Value:     rec.Token,
		ExpiresAt: rec.Expire,
		Extra:     maps.Clone(rec.OtherTokenData),
	}, nil
}

// Store persists tok atomically and makes it the in-memory current token.
func (c *TokenCache) Store(tok *graph.AccessToken) error {
	if tok == nil || tok.Value == "" {
		return errors.New("driveops: refusing to store an empty token")
	}

	c.mu.Lock()
	c.current = tok
	c.mu.Unlock()

	if err := tokenfile.Save(c.path, &tokenfile.Record{
		Token:          tok.Value,
		Expire:         tok.ExpiresAt,
		OtherTokenData: tok.Extra,
	}); err != nil {
		return fmt.Errorf("driveops: persisting token: %w", err)
	}

	c.logger.Debug("stored access token",
		slog.String("path", c.path),
		slog.Int64("expires_at", tok.ExpiresAt),
	)

	return nil
}

// Clear forgets the in-memory token and deletes the cache file. Reports
// whether a file was removed.
func (c *TokenCache) Clear() (bool, error) {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()

	return tokenfile.Remove(c.path)
}

// Current returns the in-memory token, loading it from disk if needed,
// without refreshing. Returns ErrTokenNotFound when there is none.
func (c *TokenCache) Current() (*graph.AccessToken, error) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()

	if cur != nil {
		return cur, nil
	}

	return c.Load()
}

// Token returns a valid bearer token, acquiring a new one through the
// provider only when neither memory nor disk holds a valid one. Implements
// graph.TokenSource. Provider failures wrap graph.ErrAuthFailure and leave
// the cache untouched.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()

	if IsValid(cur, c.nowFunc().Unix()) {
		return cur.Value, nil
	}

	v, err, shared := c.flight.Do(refreshKey, func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}

	tok, ok := v.(*graph.AccessToken)
	if !ok {
		return "", fmt.Errorf("%w: unexpected refresh result %T", graph.ErrAuthFailure, v)
	}

	return tok.Value, nil
}

// refresh runs under the singleflight guard.
func (c *TokenCache) refresh(ctx context.Context) (*graph.AccessToken, error) {
	now := c.nowFunc().Unix()

	// A refresh that finished just before this one started already did the work.
	c.mu.RLock()
	prev := c.current
	c.mu.RUnlock()

	if IsValid(prev, now) {
		return prev, nil
	}

	disk, err := c.Load()
	if err == nil {
		if IsValid(disk, now) {
			c.mu.Lock()
			c.current = disk
			c.mu.Unlock()

			c.logger.Debug("using cached access token", slog.Int64("expires_at", disk.ExpiresAt))

			return disk, nil
		}

		prev = disk
	}

	if c.provider == nil {
		return nil, fmt.Errorf("%w: no valid cached token; run login", graph.ErrAuthFailure)
	}

	c.logger.Info("acquiring new access token")

	tok, err := c.provider.AcquireToken(ctx, prev)
	if err != nil {
		if errors.Is(err, graph.ErrAuthFailure) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", graph.ErrAuthFailure, err)
	}

	if tok == nil || tok.Value == "" {
		return nil, fmt.Errorf("%w: provider returned an empty token", graph.ErrAuthFailure)
	}

	if err := c.Store(tok); err != nil {
		// The token is still good for this process.
		c.logger.Warn("failed to persist access token",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)
	}

	return tok, nil
}
