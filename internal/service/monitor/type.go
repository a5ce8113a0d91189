package monitor

import (
	"context"
)

// Service 一次完整的 扫描→合并→打分→匹配→通知 周期
type Service interface {
	Scan(ctx context.Context) error
}
