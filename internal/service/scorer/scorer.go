package scorer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/KNICEX/market-hunter/internal/service/asset"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	FreshTTL time.Duration `mapstructure:"fresh_ttl"`
	GraceTTL time.Duration `mapstructure:"grace_ttl"`
	// PriceDeltaPct 价格变化小于该百分比视为未发生实质变化, 复用缓存分数
	PriceDeltaPct float64 `mapstructure:"price_delta_pct"`
	BatchSize     int     `mapstructure:"batch_size"`
	Concurrency   int     `mapstructure:"concurrency"`
}

// inflightCall 同一 Key 的并发打分请求等待第一个的结果, 不重复调用 oracle
type inflightCall struct {
	done chan struct{}
	res  Result
	ok   bool
}

type Scorer struct {
	oracle     Oracle
	cache      *scoreCache
	cfg        Config
	priceDelta decimal.Decimal
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

func NewScorer(oracle Oracle, cfg Config) *Scorer {
	if cfg.FreshTTL == 0 {
		cfg.FreshTTL = 5 * time.Minute
	}
	if cfg.GraceTTL == 0 {
		cfg.GraceTTL = 10 * time.Minute
	}
	if cfg.PriceDeltaPct <= 0 {
		cfg.PriceDeltaPct = 1
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 8
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	return &Scorer{
		oracle:     oracle,
		cache:      newScoreCache(),
		cfg:        cfg,
		priceDelta: decimal.NewFromFloat(cfg.PriceDeltaPct),
		now:        time.Now,
		inflight:   make(map[string]*inflightCall),
	}
}

// Score 为本周期的合并结果附加机会评分
// oracle 整批失败时退回宽限期内的缓存分, 没有缓存则显式 NoScore, 绝不当 0 分
func (s *Scorer) Score(ctx context.Context, merged []asset.Merged) []asset.Scored {
	now := s.now()
	defer s.cache.evict(now, s.cfg.GraceTTL)

	var need []asset.Merged
	scored := make(map[string]asset.Scored, len(merged))
	var mu sync.Mutex

	for _, m := range merged {
		if e, ok := s.cache.get(m.Key); ok && s.fresh(e, m, now) {
			scored[m.Key.String()] = s.fromCache(m, e)
			continue
		}
		need = append(need, m)
	}

	eg, batchCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Concurrency)
	for _, batch := range lo.Chunk(need, s.cfg.BatchSize) {
		batch := batch
		eg.Go(func() error {
			for key, sc := range s.scoreBatch(batchCtx, batch) {
				mu.Lock()
				scored[key] = sc
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	// 保持和入参一致的顺序
	return lo.Map(merged, func(m asset.Merged, index int) asset.Scored {
		return scored[m.Key.String()]
	})
}

// scoreBatch 把批内未被其他调用占用的资产发给 oracle, 已在途的等结果
func (s *Scorer) scoreBatch(ctx context.Context, batch []asset.Merged) map[string]asset.Scored {
	var mine []asset.Merged
	var await []*inflightCall
	awaitAssets := make([]asset.Merged, 0)
	claimed := make(map[string]*inflightCall, len(batch))

	s.mu.Lock()
	for _, m := range batch {
		k := m.Key.String()
		if call, ok := s.inflight[k]; ok {
			await = append(await, call)
			awaitAssets = append(awaitAssets, m)
			continue
		}
		call := &inflightCall{done: make(chan struct{})}
		s.inflight[k] = call
		claimed[k] = call
		mine = append(mine, m)
	}
	s.mu.Unlock()

	out := make(map[string]asset.Scored, len(batch))
	if len(mine) > 0 {
		results, err := s.oracle.Score(ctx, mine)
		now := s.now()
		byKey := lo.SliceToMap(results, func(r Result) (string, Result) {
			return r.Key.String(), r
		})
		for _, m := range mine {
			k := m.Key.String()
			call := claimed[k]
			if r, ok := byKey[k]; ok && err == nil {
				s.cache.set(m.Key, cacheEntry{
					score:     r.Score,
					rationale: r.Rationale,
					price:     m.Price,
					scoredAt:  now,
				})
				call.res, call.ok = r, true
				out[k] = asset.Scored{Merged: m, Score: r.Score, Rationale: r.Rationale, ScoredAt: now}
			} else {
				if err != nil {
					slog.Error("oracle batch failed, degrading to cache", "asset", k, "error", err)
				}
				out[k] = s.degrade(m, now)
			}
			close(call.done)
		}
		s.mu.Lock()
		for k := range claimed {
			delete(s.inflight, k)
		}
		s.mu.Unlock()
	}

	for i, call := range await {
		m := awaitAssets[i]
		select {
		case <-call.done:
		case <-ctx.Done():
			out[m.Key.String()] = s.degrade(m, s.now())
			continue
		}
		if call.ok {
			out[m.Key.String()] = asset.Scored{
				Merged: m, Score: call.res.Score, Rationale: call.res.Rationale, ScoredAt: s.now(),
			}
		} else {
			out[m.Key.String()] = s.degrade(m, s.now())
		}
	}
	return out
}

// degrade 宽限期内用旧分, 否则显式无分
func (s *Scorer) degrade(m asset.Merged, now time.Time) asset.Scored {
	if e, ok := s.cache.get(m.Key); ok && now.Sub(e.scoredAt) <= s.cfg.GraceTTL {
		return s.fromCache(m, e)
	}
	return asset.Scored{Merged: m, NoScore: true}
}

func (s *Scorer) fromCache(m asset.Merged, e cacheEntry) asset.Scored {
	return asset.Scored{
		Merged:    m,
		Score:     e.score,
		Rationale: e.rationale,
		ScoredAt:  e.scoredAt,
	}
}

// fresh 缓存未过期且价格没有实质变化
func (s *Scorer) fresh(e cacheEntry, m asset.Merged, now time.Time) bool {
	if now.Sub(e.scoredAt) > s.cfg.FreshTTL {
		return false
	}
	if e.price.IsZero() {
		return false
	}
	delta := m.Price.Sub(e.price).Abs().Div(e.price).Mul(decimal.NewFromInt(100))
	return delta.LessThanOrEqual(s.priceDelta)
}
