package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "heatmap:"

// maxItemSize is memcached's default item size limit.
const maxItemSize = 1 << 20

// ErrValueTooLarge is returned by Set when a rendered image exceeds the item size limit.
var ErrValueTooLarge = errors.New("cache value exceeds memcached item size")

// MemcachedCache stores rendered heatmaps in memcached under the "heatmap:" prefix.
// Images above the default 1 MiB item limit are refused rather than sent.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. A miss is (nil, false, nil).
func (c *MemcachedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := c.client.Get(c.key(key))
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("memcached get %s: %w", key, err)
	case len(item.Value) == 0:
		// An empty item is never a valid image; treat it as absent.
		return nil, false, nil
	}
	return item.Value, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(value) > maxItemSize {
		return fmt.Errorf("%s (%d bytes): %w", key, len(value), ErrValueTooLarge)
	}
	err := c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      value,
		Expiration: expirationSeconds(ttl),
	})
	if err != nil {
		return fmt.Errorf("memcached set %s: %w", key, err)
	}
	return nil
}

// expirationSeconds clamps ttl to memcached's relative expiration range.
func expirationSeconds(ttl time.Duration) int32 {
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return expSec
}

// Ping reports whether every configured server answers; /health uses it.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close releases idle connections.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
