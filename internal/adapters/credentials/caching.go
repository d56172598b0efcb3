package credentials

import (
	"context"
	"log/slog"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// Caching memoizes successful resolutions for a TTL and collapses concurrent lookups of the
// same reference into one call to the wrapped resolver. Failures are not cached.
type Caching struct {
	inner  core.CredentialResolver
	cache  *ttlcache.Cache[string, string]
	group  singleflight.Group
	logger *slog.Logger
}

var _ core.CredentialResolver = (*Caching)(nil)

// NewCaching wraps inner. Call Start to expire entries in the background and Stop to release it.
func NewCaching(inner core.CredentialResolver, ttl time.Duration, logger *slog.Logger) *Caching {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caching{
		inner:  inner,
		cache:  ttlcache.New(ttlcache.WithTTL[string, string](ttl), ttlcache.WithDisableTouchOnHit[string, string]()),
		logger: logger.With("component", "credentials"),
	}
}

// Start runs the expiry loop until Stop is called.
func (c *Caching) Start() { go c.cache.Start() }

// Stop ends the expiry loop.
func (c *Caching) Stop() { c.cache.Stop() }

func (c *Caching) Resolve(ctx context.Context, ref string) (string, error) {
	if item := c.cache.Get(ref); item != nil {
		return item.Value(), nil
	}
	v, err, shared := c.group.Do(ref, func() (any, error) {
		tenant, err := c.inner.Resolve(ctx, ref)
		if err != nil {
			return "", err
		}
		c.cache.Set(ref, tenant, ttlcache.DefaultTTL)
		return tenant, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.DebugContext(ctx, "tenant lookup shared", "tenant_ref", ref)
	}
	return v.(string), nil
}

// Invalidate drops a cached reference, e.g. after credentials rotate.
func (c *Caching) Invalidate(ref string) {
	c.cache.Delete(ref)
}

// Len reports the number of cached references.
func (c *Caching) Len() int { return c.cache.Len() }
