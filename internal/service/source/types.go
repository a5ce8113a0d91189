package source

import (
	"context"
	"errors"

	"github.com/KNICEX/market-hunter/internal/service/asset"
)

var (
	// ErrSourceUnavailable 上游不可用(超时/网络错误/非200)
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRateLimited 被上游限流, 适配器应自行冷却
	ErrRateLimited = errors.New("source rate limited")
	// ErrParse 单条记录解析失败, 适配器内部跳过, 不中断整次抓取
	ErrParse = errors.New("record parse failed")
)

// Adapter 单个行情数据源
// Fetch 返回本次扫描到的全部快照, 失败时返回上面的哨兵错误
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) ([]asset.Snapshot, error)
}

// Fatal 区分源级失败和单条记录失败, 前者终止本源的抓取
func Fatal(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrRateLimited)
}
