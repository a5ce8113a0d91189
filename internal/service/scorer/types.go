package scorer

import (
	"context"
	"errors"

	"github.com/KNICEX/market-hunter/internal/service/asset"
)

var (
	// ErrOracleUnavailable 打分服务不可用
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrOracleTimeout 打分服务超时
	ErrOracleTimeout = errors.New("oracle timeout")
)

// Result 单个资产的打分结果
type Result struct {
	Key       asset.Key
	Score     int
	Rationale string
}

// Oracle 机会分类黑盒, 按批打分
// 允许部分失败: 返回的结果可以少于入参, 缺失的资产视为本批未打分
type Oracle interface {
	Score(ctx context.Context, batch []asset.Merged) ([]Result, error)
}
