package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/KNICEX/market-hunter/internal/service/asset"
	"github.com/KNICEX/market-hunter/internal/service/source"
	"github.com/samber/lo"
)

// SourceError 单个数据源在本周期的失败, 上报但不阻断周期
type SourceError struct {
	Source string
	Err    error
}

type Aggregator struct {
	adapters     []source.Adapter
	policy       Policy
	fetchTimeout time.Duration
}

type Option func(a *Aggregator)

func WithPolicy(p Policy) Option {
	return func(a *Aggregator) {
		a.policy = p
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		a.fetchTimeout = d
	}
}

func NewAggregator(adapters []source.Adapter, opts ...Option) *Aggregator {
	agg := &Aggregator{
		adapters:     adapters,
		policy:       DefaultPolicy(),
		fetchTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(agg)
	}
	return agg
}

type fetchResult struct {
	source    string
	snapshots []asset.Snapshot
	err       error
}

// RunCycle 并发拉取所有数据源并按 Key 合并
// 单个源慢或挂掉不会拖累其他源, 周期以部分覆盖继续
func (a *Aggregator) RunCycle(ctx context.Context) ([]asset.Merged, []SourceError) {
	results := make(chan fetchResult, len(a.adapters))
	var wg sync.WaitGroup
	for _, adapter := range a.adapters {
		wg.Add(1)
		go func(ad source.Adapter) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
			defer cancel()
			snaps, err := ad.Fetch(fetchCtx)
			results <- fetchResult{source: ad.Name(), snapshots: snaps, err: err}
		}(adapter)
	}
	// 合并屏障: 等所有源完成或超时
	wg.Wait()
	close(results)

	var all []asset.Snapshot
	var failures []SourceError
	for res := range results {
		// 失败的源可能仍带回部分快照, 照常合并
		all = append(all, res.snapshots...)
		if res.err != nil {
			slog.Error("source fetch degraded", "source", res.source, "snapshots", len(res.snapshots), "error", res.err)
			failures = append(failures, SourceError{Source: res.source, Err: res.err})
		} else {
			slog.Info("source fetch done", "source", res.source, "snapshots", len(res.snapshots))
		}
	}

	return a.merge(all), failures
}

// merge 快照按 Key 分组做字段级合并
// 不同链上同名代币 Key 不同, 永远不会被并到一起
func (a *Aggregator) merge(snapshots []asset.Snapshot) []asset.Merged {
	groups := lo.GroupBy(snapshots, func(s asset.Snapshot) string {
		return s.Key.String()
	})

	merged := make([]asset.Merged, 0, len(groups))
	for _, group := range groups {
		merged = append(merged, a.mergeGroup(group))
	}
	return merged
}

func (a *Aggregator) mergeGroup(group []asset.Snapshot) asset.Merged {
	freshest := group[0]
	for _, s := range group {
		if s.FetchedAt.After(freshest.FetchedAt) {
			freshest = s
		}
	}

	m := asset.Merged{
		Key:            freshest.Key,
		Symbol:         freshest.Symbol,
		Platform:       freshest.Platform,
		PriceChange24h: freshest.PriceChange24h,
		Note:           freshest.Note,
		Provenance:     make(map[asset.Field]string, 3),
		LastUpdated:    freshest.FetchedAt,
	}

	priceWinner := group[a.policy.resolve(asset.FieldPrice, group)]
	m.Price = priceWinner.Price
	m.Provenance[asset.FieldPrice] = priceWinner.Platform

	volWinner := group[a.policy.resolve(asset.FieldVolume, group)]
	m.Volume = volWinner.Volume
	m.Provenance[asset.FieldVolume] = volWinner.Platform

	// 流动性是可选字段, 只在有源上报时参与解决
	withLiquidity := lo.Filter(group, func(s asset.Snapshot, index int) bool {
		return s.HasLiquidity
	})
	if len(withLiquidity) > 0 {
		liqWinner := withLiquidity[a.policy.resolve(asset.FieldLiquidity, withLiquidity)]
		m.Liquidity = liqWinner.Liquidity
		m.HasLiquidity = true
		m.Provenance[asset.FieldLiquidity] = liqWinner.Platform
	}
	return m
}
