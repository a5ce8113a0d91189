package asset

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Key 资产的跨周期唯一标识
// CEX/股票用 (platform, symbol), DEX 交易对用 (chain, contract)
type Key struct {
	Platform string
	Symbol   string
	Chain    string
	Contract string
}

func (k Key) IsZero() bool {
	return k.Platform == "" && k.Chain == ""
}

func (k Key) String() string {
	if k.Chain != "" {
		return fmt.Sprintf("%s:%s", k.Chain, k.Contract)
	}
	return fmt.Sprintf("%s:%s", k.Platform, k.Symbol)
}

// Field 可参与合并冲突解决的快照字段
type Field string

const (
	FieldPrice     Field = "price"
	FieldVolume    Field = "volume"
	FieldLiquidity Field = "liquidity"
)

// Snapshot 某一数据源在某一时刻对资产的观测, 创建后不可变
type Snapshot struct {
	Key            Key
	Symbol         string
	Platform       string
	Price          decimal.Decimal
	Volume         decimal.Decimal
	Liquidity      decimal.Decimal
	HasLiquidity   bool
	PriceChange24h decimal.Decimal
	Note           string
	FetchedAt      time.Time
	Raw            json.RawMessage
}

// Merged 同一 Key 多个快照合并后的结果, 仅存活于单个扫描周期
type Merged struct {
	Key            Key
	Symbol         string
	Platform       string
	Price          decimal.Decimal
	Volume         decimal.Decimal
	Liquidity      decimal.Decimal
	HasLiquidity   bool
	PriceChange24h decimal.Decimal
	Note           string
	// Provenance 记录每个字段最终取自哪个数据源
	Provenance  map[Field]string
	LastUpdated time.Time
}

// Scored 合并结果 + 机会评分
// NoScore 为 true 时表示本周期没有可用评分, 与真实 0 分是两回事
type Scored struct {
	Merged

	Score     int
	Rationale string
	ScoredAt  time.Time
	NoScore   bool
}
