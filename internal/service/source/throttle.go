package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle 适配器自身的限流与冷却状态
// 被上游限流后只暂停自己, 不影响其他数据源
type Throttle struct {
	limiter  *rate.Limiter
	cooldown time.Duration

	mu             sync.Mutex
	suspendedUntil time.Time
}

func NewThrottle(rps float64, burst int, cooldown time.Duration) *Throttle {
	return &Throttle{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		cooldown: cooldown,
	}
}

// Acquire 在本地限流器上等待一个令牌, 若处于冷却期直接返回 ErrRateLimited
func (t *Throttle) Acquire(ctx context.Context) error {
	t.mu.Lock()
	until := t.suspendedUntil
	t.mu.Unlock()

	if now := time.Now(); now.Before(until) {
		return fmt.Errorf("suspended until %s: %w", until.Format(time.TimeOnly), ErrRateLimited)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", ErrSourceUnavailable)
	}
	return nil
}

// Suspend 记录冷却截止时间, 下个周期之前的 Acquire 都会被拒绝
func (t *Throttle) Suspend() {
	t.mu.Lock()
	t.suspendedUntil = time.Now().Add(t.cooldown)
	t.mu.Unlock()
}

func (t *Throttle) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Now().Before(t.suspendedUntil)
}
