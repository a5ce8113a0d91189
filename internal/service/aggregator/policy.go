package aggregator

import (
	"github.com/KNICEX/market-hunter/internal/service/asset"
)

// Policy 字段级冲突解决策略
// 每个字段维护一个权威数据源优先级列表, 越靠前越权威
// 同一权威级别内按快照新鲜度取值, 没有权威源上报时退回全局最新
type Policy struct {
	Authority map[asset.Field][]string `mapstructure:"authority"`
}

// DefaultPolicy CEX 报价比 DEX 聚合价可信, 流动性只有 DEX 口径有意义
func DefaultPolicy() Policy {
	return Policy{
		Authority: map[asset.Field][]string{
			asset.FieldPrice:     {"binance", "stocks"},
			asset.FieldVolume:    {"binance", "stocks"},
			asset.FieldLiquidity: {"dexscreener"},
		},
	}
}

// resolve 返回 candidates 中按策略胜出的快照下标
func (p Policy) resolve(field asset.Field, candidates []asset.Snapshot) int {
	for _, platform := range p.Authority[field] {
		best := -1
		for i, s := range candidates {
			if s.Platform != platform {
				continue
			}
			if best == -1 || s.FetchedAt.After(candidates[best].FetchedAt) {
				best = i
			}
		}
		if best >= 0 {
			return best
		}
	}
	// 没有权威源, 全局取最新
	best := 0
	for i, s := range candidates {
		if s.FetchedAt.After(candidates[best].FetchedAt) {
			best = i
		}
	}
	return best
}
