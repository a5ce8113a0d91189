package scorer

import (
	"sync"
	"time"

	"github.com/KNICEX/market-hunter/internal/service/asset"
	"github.com/shopspring/decimal"
)

type cacheEntry struct {
	score     int
	rationale string
	price     decimal.Decimal
	scoredAt  time.Time
}

// scoreCache 按 AssetKey 缓存最近一次打分
type scoreCache struct {
	mu sync.RWMutex
	m  map[string]cacheEntry
}

func newScoreCache() *scoreCache {
	return &scoreCache{m: make(map[string]cacheEntry)}
}

func (c *scoreCache) get(key asset.Key) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[key.String()]
	return e, ok
}

func (c *scoreCache) set(key asset.Key, e cacheEntry) {
	c.mu.Lock()
	c.m[key.String()] = e
	c.mu.Unlock()
}

// evict 清掉超过宽限期的条目, 每个周期结束调用一次
func (c *scoreCache) evict(now time.Time, graceTTL time.Duration) {
	c.mu.Lock()
	for k, e := range c.m {
		if now.Sub(e.scoredAt) > graceTTL {
			delete(c.m, k)
		}
	}
	c.mu.Unlock()
}
