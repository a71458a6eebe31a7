package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

const DefaultPropertiesTTL = 15 * time.Minute

type Loader interface {
	ListContactProperties(ctx context.Context) ([]string, error)
}

// Store is the durable copy read when the CRM cannot be reached.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, names []string) error
}

type Options struct {
	Backend Backend
	Loader  Loader
	Store   Store
	TTL     time.Duration
	Logger  *slog.Logger
}

// PropertiesCache serves the CRM contact property names. Concurrent misses
// share a single load.
type PropertiesCache struct {
	backend Backend
	loader  Loader
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

func NewPropertiesCache(opts Options) *PropertiesCache {
	backend := opts.Backend
	if backend == nil {
		backend = NewMemoryBackend(nil)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultPropertiesTTL
	}
	return &PropertiesCache{
		backend: backend,
		loader:  opts.Loader,
		store:   opts.Store,
		ttl:     ttl,
		logger:  logging.OrDefault(opts.Logger),
	}
}

func (c *PropertiesCache) ContactProperties(ctx context.Context) (map[string]struct{}, error) {
	names, ok, err := c.backend.Get(ctx)
	if err != nil {
		c.logger.Warn("properties cache read failed", "err", err)
	}
	if ok {
		return toSet(names), nil
	}

	v, err, _ := c.group.Do("contact-properties", func() (any, error) {
		return c.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return toSet(v.([]string)), nil
}

func (c *PropertiesCache) load(ctx context.Context) ([]string, error) {
	if c.loader == nil {
		return c.fallback(ctx, fmt.Errorf("no crm loader configured"))
	}
	names, err := c.loader.ListContactProperties(ctx)
	if err != nil {
		if domain.IsAuthError(err) {
			return nil, err
		}
		return c.fallback(ctx, err)
	}

	if err := c.backend.Set(ctx, names, c.ttl); err != nil {
		c.logger.Warn("properties cache write failed", "err", err)
	}
	if c.store != nil {
		if err := c.store.Save(ctx, names); err != nil {
			c.logger.Warn("persist crm properties failed", "err", err)
		}
	}
	return names, nil
}

func (c *PropertiesCache) fallback(ctx context.Context, cause error) ([]string, error) {
	if c.store == nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPropertiesNotFound, cause)
	}
	names, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (fallback: %v)", domain.ErrPropertiesNotFound, cause, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrPropertiesNotFound, cause)
	}
	c.logger.Warn("serving stored crm properties", "count", len(names), "err", cause)
	return names, nil
}

// Invalidate drops the cached list so the next read goes to the CRM.
func (c *PropertiesCache) Invalidate(ctx context.Context) error {
	c.group.Forget("contact-properties")
	return c.backend.Delete(ctx)
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
