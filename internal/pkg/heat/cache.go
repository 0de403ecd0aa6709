package heat

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	gocache "github.com/patrickmn/go-cache"
)

// scoreCache is a TTL cache of HeatScore keyed on (volume ID, window).
// Expiry is lazy: a read past TTL simply misses, exactly as the underlying
// go-cache library implements it, so the cache never serves a stale value
// and never has to run a background sweep to stay correct (the periodic
// janitor it does run is purely to reclaim memory from abandoned keys).
type scoreCache struct {
	c   *gocache.Cache
	log logr.Logger
}

// cacheKey returns the cache key for a given volume ID and sampling window.
func cacheKey(volumeID string, window time.Duration) string {
	return fmt.Sprintf("%s@%s", volumeID, window)
}

// newScoreCache builds a cache with the given TTL. cleanupInterval governs
// how often expired entries are purged from memory; it does not affect
// read-time staleness, which is bounded by ttl alone.
func newScoreCache(ttl, cleanupInterval time.Duration, log logr.Logger) *scoreCache {
	return &scoreCache{
		c:   gocache.New(ttl, cleanupInterval),
		log: log.WithName("ScoreCache"),
	}
}

// get returns the cached score for (volumeID, window), if present and not
// expired.
func (c *scoreCache) get(volumeID string, window time.Duration) (HeatScore, bool) {
	key := cacheKey(volumeID, window)
	v, found := c.c.Get(key)
	if !found {
		c.log.V(5).Info("cache miss", "volume", volumeID)
		return HeatScore{}, false
	}
	score, ok := v.(HeatScore)
	if !ok {
		c.log.V(5).Info("cache value of unexpected type, treating as miss", "volume", volumeID)
		return HeatScore{}, false
	}
	c.log.V(5).Info("cache hit", "volume", volumeID)
	return score, true
}

// set inserts score into the cache under its own TTL.
func (c *scoreCache) set(window time.Duration, score HeatScore) {
	c.c.SetDefault(cacheKey(score.VolumeID, window), score)
}

// invalidate removes every cached entry for volumeID, across all windows
// it may have been queried with.
func (c *scoreCache) invalidate(volumeID string) {
	prefix := volumeID + "@"
	for key := range c.c.Items() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.c.Delete(key)
		}
	}
}

// clear removes every cached entry.
func (c *scoreCache) clear() {
	c.c.Flush()
}
