// Package repo provides the read facades over backend collections.
// Each repository issues one logical fetch per entity type, memoizes
// the decoded collection, and filters in memory. Reads degrade to the
// category fallback (an empty list) when the backend is away; only
// FindByID turns degradation into an error, because "absent" and
// "unreachable" must stay distinguishable.
package repo

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rampartlabs/rampart/internal/backend"
	"github.com/rampartlabs/rampart/internal/cache"
	"github.com/rampartlabs/rampart/internal/domain"
)

// DefaultCollectionTTL is how long a fetched collection stays memoized.
const DefaultCollectionTTL = 60 * time.Second

// collection handles fetch, memoization, and dedupe for one entity
// list channel. Fallback results are served but never cached, so a
// recovering backend is asked again on the next read.
type collection[T any] struct {
	channel string
	invoker backend.Invoker
	cache   *cache.Cache[[]T]
	id      func(T) string
	group   singleflight.Group
	logger  *zap.Logger
}

func newCollection[T any](channel string, invoker backend.Invoker, c *cache.Cache[[]T], id func(T) string, logger *zap.Logger) *collection[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.New[[]T](cache.Config{DefaultTTL: DefaultCollectionTTL}, logger)
	}
	return &collection[T]{
		channel: channel,
		invoker: invoker,
		cache:   c,
		id:      id,
		logger:  logger,
	}
}

// flightResult carries a fetched collection plus whether it came from
// the category fallback.
type flightResult[T any] struct {
	items    []T
	fallback bool
}

// fetch returns the collection for this channel, deduplicating
// concurrent misses through singleflight.
func (c *collection[T]) fetch(ctx context.Context) ([]T, bool, error) {
	if items, ok := c.cache.Get(c.channel); ok {
		return items, false, nil
	}

	v, err, _ := c.group.Do(c.channel, func() (any, error) {
		// Double-check inside the flight: a caller that queued behind a
		// completed fetch finds the cache already filled.
		if items, ok := c.cache.Get(c.channel); ok {
			return flightResult[T]{items: items}, nil
		}

		res, err := c.invoker.Invoke(ctx, c.channel)
		if err != nil {
			return nil, err
		}
		var items []T
		if err := res.Decode(&items); err != nil {
			return nil, fmt.Errorf("decode %s collection: %w", c.channel, err)
		}
		if items == nil {
			items = []T{}
		}
		if !res.Fallback {
			c.cache.Set(c.channel, items)
		}
		c.logger.Debug("collection fetched",
			zap.String("channel", c.channel),
			zap.Int("count", len(items)),
			zap.Bool("fallback", res.Fallback))
		return flightResult[T]{items: items, fallback: res.Fallback}, nil
	})
	if err != nil {
		return nil, false, err
	}
	fr, ok := v.(flightResult[T])
	if !ok {
		return nil, false, fmt.Errorf("unexpected type from %s flight: %T", c.channel, v)
	}
	return fr.items, fr.fallback, nil
}

// findByID searches the fetched collection. With a degraded backend the
// whole collection is a fallback, so a miss means "unreachable", not
// "absent".
func (c *collection[T]) findByID(ctx context.Context, noun, id string) (*T, error) {
	items, degraded, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if c.id(items[i]) == id {
			item := items[i]
			return &item, nil
		}
	}
	if degraded {
		return nil, fmt.Errorf("%s %s: %w", noun, id, domain.ErrUnavailable)
	}
	return nil, fmt.Errorf("%s %s: %w", noun, id, domain.ErrNotFound)
}

// filter returns the items keep accepts.
func (c *collection[T]) filter(ctx context.Context, keep func(T) bool) ([]T, error) {
	items, _, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out, nil
}
