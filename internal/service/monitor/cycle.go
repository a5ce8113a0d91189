package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KNICEX/market-hunter/internal/service/aggregator"
	"github.com/KNICEX/market-hunter/internal/service/matcher"
	"github.com/KNICEX/market-hunter/internal/service/notifier"
	"github.com/KNICEX/market-hunter/internal/service/scorer"
)

type HuntMonitor struct {
	aggregator *aggregator.Aggregator
	scorer     *scorer.Scorer
	matcher    *matcher.Matcher
	dispatcher *notifier.Dispatcher

	// 同一进程内周期不重叠, 上一轮没跑完直接跳过
	running sync.Mutex
}

func NewHuntMonitor(agg *aggregator.Aggregator, sc *scorer.Scorer, m *matcher.Matcher, d *notifier.Dispatcher) Service {
	return &HuntMonitor{
		aggregator: agg,
		scorer:     sc,
		matcher:    m,
		dispatcher: d,
	}
}

// Scan 跑一个完整周期, ctx 携带周期的墙钟预算
// 超预算时已投递的不回滚, 剩余工作留给下个周期
func (h *HuntMonitor) Scan(ctx context.Context) error {
	if !h.running.TryLock() {
		slog.Warn("previous scan cycle still running, skip")
		return nil
	}
	defer h.running.Unlock()

	start := time.Now()

	merged, failures := h.aggregator.RunCycle(ctx)
	for _, f := range failures {
		slog.Warn("cycle running with degraded coverage", "source", f.Source, "error", f.Err)
	}
	if len(merged) == 0 {
		slog.Info("scan cycle found nothing", "sources_failed", len(failures))
		return nil
	}

	scored := h.scorer.Score(ctx, merged)

	events, err := h.matcher.Match(ctx, scored)
	if err != nil {
		return fmt.Errorf("match favorites: %w", err)
	}

	h.dispatcher.DispatchAll(ctx, events)

	slog.Info("scan cycle done",
		"merged", len(merged),
		"scored", len(scored),
		"events", len(events),
		"sources_failed", len(failures),
		"elapsed", time.Since(start))
	return nil
}
