package clerkx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// KeySetSource fetches the issuer's current key set. Implementations must be
// safe for concurrent use.
type KeySetSource interface {
	FetchKeySet(ctx context.Context) (jwk.Set, error)
}

// HTTPKeySetSource fetches a JWKS document over HTTPS.
type HTTPKeySetSource struct {
	URL    string
	Client *http.Client
}

// FetchKeySet performs a single GET of the configured JWKS endpoint.
func (s *HTTPKeySetSource) FetchKeySet(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	if set.Len() == 0 {
		return nil, errors.New("jwks contains no keys")
	}
	return set, nil
}

// KeySetCacheConfig configures a KeySetCache.
type KeySetCacheConfig struct {
	Source KeySetSource

	// RefreshInterval bounds how long a fetched set is served before a
	// background-free, on-demand re-fetch.
	RefreshInterval time.Duration

	// MinRefresh rate-limits refreshes forced by unknown key identifiers, so
	// a storm of bad kids cannot hammer the endpoint.
	MinRefresh time.Duration

	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
}

// KeySetCache holds the most recently fetched key set. The set is replaced
// wholesale on refresh, never mutated in place. Concurrent lookups that miss
// share a single in-flight fetch.
type KeySetCache struct {
	source          KeySetSource
	refreshInterval time.Duration
	minRefresh      time.Duration
	now             func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
}

// NewKeySetCache builds a cache around the given source.
func NewKeySetCache(cfg KeySetCacheConfig) (*KeySetCache, error) {
	if cfg.Source == nil {
		return nil, errors.New("key set source is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.MinRefresh <= 0 {
		cfg.MinRefresh = defaultMinRefresh
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &KeySetCache{
		source:          cfg.Source,
		refreshInterval: cfg.RefreshInterval,
		minRefresh:      cfg.MinRefresh,
		now:             cfg.Clock,
	}, nil
}

// KeySetStats describes the cached set for diagnostics.
type KeySetStats struct {
	KeyCount  int       `json:"key_count"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Stats returns a snapshot of the cache contents.
func (c *KeySetCache) Stats() KeySetStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := KeySetStats{FetchedAt: c.fetchedAt}
	if c.set != nil {
		stats.KeyCount = c.set.Len()
	}
	return stats
}

// Refresh fetches the key set immediately, replacing the cached copy.
func (c *KeySetCache) Refresh(ctx context.Context) error {
	if _, err := c.fetch(ctx); err != nil {
		return newError(ErrCodeKeySetUnavailable, err)
	}
	return nil
}

// Lookup resolves a signing key by key identifier. A miss against a stale or
// empty cache triggers one fetch; a miss against a freshly fetched set
// triggers one more forced refresh (key rotation tolerance), rate-limited by
// MinRefresh. A kid absent after refresh is reported as unknown_key; fetch
// failures surface as keyset_unavailable and are never cached.
//
// The cooldown means a token signed with a freshly rotated key can be
// rejected as unknown_key for up to MinRefresh after the last fetch; issuers
// are expected to publish new keys before signing with them.
func (c *KeySetCache) Lookup(ctx context.Context, kid string) (jwk.Key, error) {
	set, fetchedAt := c.snapshot()
	now := c.now()

	refreshed := false
	if set == nil || now.Sub(fetchedAt) >= c.refreshInterval {
		fresh, err := c.fetch(ctx)
		if err != nil {
			if set == nil {
				return nil, newError(ErrCodeKeySetUnavailable, err)
			}
			// Keep serving the stale set while the endpoint is down.
		} else {
			set = fresh
			refreshed = true
		}
	}

	if key, ok := lookupKey(set, kid); ok {
		return key, nil
	}

	if !refreshed && now.Sub(fetchedAt) >= c.minRefresh {
		fresh, err := c.fetch(ctx)
		if err != nil {
			return nil, newError(ErrCodeKeySetUnavailable, err)
		}
		if key, ok := lookupKey(fresh, kid); ok {
			return key, nil
		}
	}

	return nil, newError(ErrCodeUnknownKey, fmt.Errorf("key %q not present in key set", kid))
}

func (c *KeySetCache) snapshot() (jwk.Set, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set, c.fetchedAt
}

// fetch funnels concurrent callers through a single network request.
func (c *KeySetCache) fetch(ctx context.Context) (jwk.Set, error) {
	v, err, _ := c.group.Do("keyset", func() (any, error) {
		set, err := c.source.FetchKeySet(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.set = set
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

func lookupKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if set == nil {
		return nil, false
	}
	if kid == "" {
		// Tokens without a kid are acceptable only against a single-key set.
		if set.Len() == 1 {
			return set.Key(0)
		}
		return nil, false
	}
	return set.LookupKeyID(kid)
}
