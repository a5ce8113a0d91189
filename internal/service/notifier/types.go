package notifier

import (
	"context"
	"errors"
)

// ErrTransport 投递通道失败, 可重试
var ErrTransport = errors.New("notification transport failed")

// Transport 外部通知通道
// 重试导致的重复投递可以接受, 但审计记录只会落一条
type Transport interface {
	Send(ctx context.Context, target string, message string) error
}
