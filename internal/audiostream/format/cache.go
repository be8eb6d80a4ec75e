package format

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/audiostream/internal/audiostream/host"
)

// QueryCache memoizes format query results for a while and collapses concurrent
// identical queries into one driver call.
type QueryCache struct {
	results *cache.Cache
	group   singleflight.Group
}

type queryResult struct {
	err error
}

// NewQueryCache returns a cache whose entries expire after ttl.
func NewQueryCache(ttl time.Duration) *QueryCache {
	return &QueryCache{results: cache.New(ttl, ttl*2)}
}

// Do returns the cached result for key or runs fn once.
func (c *QueryCache) Do(key string, fn func() error) error {
	if cached, found := c.results.Get(key); found {
		return cached.(queryResult).err
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		if cached, found := c.results.Get(key); found {
			return cached, nil
		}
		res := queryResult{err: fn()}
		c.results.Set(key, res, cache.DefaultExpiration)
		return res, nil
	})
	return v.(queryResult).err
}

// Flush drops every entry, for example after the device list changed.
func (c *QueryCache) Flush() {
	c.results.Flush()
}

// Len returns the number of cached results.
func (c *QueryCache) Len() int {
	return c.results.ItemCount()
}

func queryKey(dir host.Direction, id host.DeviceID, channels int, format host.SampleFormat, rate float64) string {
	return fmt.Sprintf("%s/%d/%d/%s/%g", dir, id, channels, format, rate)
}
