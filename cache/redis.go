/*
Package cache provides a Redis-backed stock.ResultCache.

PURPOSE:
  Reconciling a busy item over a month replays thousands of rows. The
  screens ask for the same window repeatedly, so finished results are
  cached as JSON.

VERSIONING:
  Every item has a version counter:

    stockledger:generation                               -> G
    stockledger:item:{item}:version                      -> N
    stockledger:item:{item}:v{N}:g{G}:{startNs}:{endNs}  -> Result JSON

  Invalidate INCRs the item counter, so every cached window of the item
  becomes unreachable at once and expires by TTL. InvalidateAll INCRs the
  generation, which does the same for every item (database reset). No key
  scans.

SEE ALSO:
  - stock/source.go: ResultCache contract
  - stock/service.go: best-effort use of the cache
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/stockledger/stock"
)

const (
	keyPrefix     = "stockledger:item"
	generationKey = "stockledger:generation"
)

// Redis caches reconciliation results.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis instantiates the cache. ttl <= 0 keeps entries until the version moves.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Version returns the current version of item, initialising when missing.
func (c *Redis) Version(ctx context.Context, item stock.ItemID) (int64, error) {
	return c.counter(ctx, versionKey(item))
}

// Generation returns the cache-wide generation, initialising when missing.
func (c *Redis) Generation(ctx context.Context) (int64, error) {
	return c.counter(ctx, generationKey)
}

func (c *Redis) counter(ctx context.Context, key string) (int64, error) {
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so concurrent initialisers agree on the first version.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key of one window at the current version.
func (c *Redis) BuildKey(ctx context.Context, item stock.ItemID, w stock.Window) (string, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return "", err
	}
	ver, err := c.Version(ctx, item)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:v%d:g%d:%d:%d", keyPrefix, item, ver, gen, w.Start.UnixNano(), w.End.UnixNano()), nil
}

// Get implements stock.ResultCache.
func (c *Redis) Get(ctx context.Context, item stock.ItemID, w stock.Window) (*stock.Result, bool, error) {
	key, err := c.BuildKey(ctx, item, w)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var res stock.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, false, fmt.Errorf("decode cached result %s: %w", key, err)
	}
	return &res, true, nil
}

// Put implements stock.ResultCache.
func (c *Redis) Put(ctx context.Context, item stock.ItemID, w stock.Window, res *stock.Result) error {
	key, err := c.BuildKey(ctx, item, w)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate bumps the item version.
func (c *Redis) Invalidate(ctx context.Context, item stock.ItemID) error {
	return c.client.Incr(ctx, versionKey(item)).Err()
}

// InvalidateAll bumps the generation, dropping every item at once.
func (c *Redis) InvalidateAll(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}

func versionKey(item stock.ItemID) string {
	return fmt.Sprintf("%s:%s:version", keyPrefix, item)
}
