package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/KNICEX/market-hunter/internal/entity"
	"github.com/KNICEX/market-hunter/internal/repo"
	"github.com/KNICEX/market-hunter/internal/service/matcher"
	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

type Config struct {
	// MaxAttempts 指数退避重试的总尝试次数上限
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	// PerUserPerMinute 单用户单位时间投递上限, 超出的旧事件被丢弃
	PerUserPerMinute int `mapstructure:"per_user_per_minute"`
	// Targets 用户到通知通道目标(chat id)的映射
	Targets       map[int64]string `mapstructure:"targets"`
	DefaultTarget string           `mapstructure:"default_target"`
}

type Dispatcher struct {
	transport Transport
	alertRepo repo.AlertRepo
	cfg       Config

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func NewDispatcher(transport Transport, alertRepo repo.AlertRepo, cfg Config) *Dispatcher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.PerUserPerMinute == 0 {
		cfg.PerUserPerMinute = 10
	}
	return &Dispatcher{
		transport: transport,
		alertRepo: alertRepo,
		cfg:       cfg,
		limiters:  make(map[int64]*rate.Limiter),
	}
}

// DispatchAll 按用户限流后逐个投递
// 背压策略取新弃旧: 超限时丢最旧的事件并告警
func (d *Dispatcher) DispatchAll(ctx context.Context, events []matcher.AlertEvent) {
	byUser := lo.GroupBy(events, func(e matcher.AlertEvent) int64 {
		return e.UserId
	})
	for userId, userEvents := range byUser {
		l := d.limiter(userId)
		// 先按限流器剩余令牌裁剪, 从最旧的丢起
		// 不能裁剪后顺序发送再靠 Allow 兜底: 令牌不足时会丢最新的, 方向反了
		allowed := int(l.Tokens())
		if allowed < 0 {
			allowed = 0
		}
		if len(userEvents) > allowed {
			dropped := len(userEvents) - allowed
			slog.Warn("dropping oldest pending alerts over user rate limit",
				"user", userId, "dropped", dropped)
			userEvents = userEvents[dropped:]
		}
		for _, event := range userEvents {
			if ctx.Err() != nil {
				return
			}
			if !l.Allow() {
				slog.Warn("user dispatch rate limit exceeded, dropping alert",
					"user", userId, "symbol", event.Symbol)
				continue
			}
			if err := d.Dispatch(ctx, event); err != nil {
				slog.Error("dispatch failed after retries", "user", userId, "symbol", event.Symbol, "error", err)
			}
		}
	}
}

// Dispatch 有界指数退避重试, 重试耗尽落一条失败标记的审计
// 无论重试多少次, 每个事件只持久化一条 Alert
func (d *Dispatcher) Dispatch(ctx context.Context, event matcher.AlertEvent) error {
	target := d.targetFor(event.UserId)

	operation := func() error {
		return d.transport.Send(ctx, target, event.Message)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval

	sendErr := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx))

	d.record(ctx, event, sendErr == nil)
	if sendErr != nil {
		return fmt.Errorf("deliver alert for %s: %w", event.Symbol, sendErr)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, event matcher.AlertEvent, delivered bool) {
	_, err := d.alertRepo.Create(ctx, entity.Alert{
		UserId:    event.UserId,
		Symbol:    event.Symbol,
		Action:    event.Action,
		Message:   event.Message,
		Delivered: delivered,
		CreatedAt: event.At,
	})
	if err != nil {
		slog.Error("failed to persist alert record", "user", event.UserId, "symbol", event.Symbol, "error", err)
	}
}

func (d *Dispatcher) limiter(userId int64) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[userId]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(d.cfg.PerUserPerMinute)/60), d.cfg.PerUserPerMinute)
		d.limiters[userId] = l
	}
	return l
}

func (d *Dispatcher) targetFor(userId int64) string {
	if t, ok := d.cfg.Targets[userId]; ok {
		return t
	}
	if d.cfg.DefaultTarget != "" {
		return d.cfg.DefaultTarget
	}
	return strconv.FormatInt(userId, 10)
}
