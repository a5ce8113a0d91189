package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KNICEX/market-hunter/internal/service/asset"
	"github.com/KNICEX/market-hunter/internal/service/source"
	"github.com/KNICEX/market-hunter/pkg/decimalx"
	"github.com/adshao/go-binance/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// 默认监控的主流币, 全量扫描太慢也没必要
var defaultBases = []string{
	"BTC", "ETH", "SOL", "BNB", "XRP",
	"ADA", "AVAX", "DOGE", "DOT", "LINK",
	"ATOM", "UNI", "LTC", "NEAR", "APT",
	"ARB", "OP", "INJ", "SUI", "PEPE",
}

const volSMAPeriod = 20

var (
	volumeRatioThreshold = decimal.NewFromInt(3)
	volatilityThreshold  = decimal.NewFromInt(3)
)

type Config struct {
	Bases    []string      `mapstructure:"bases"`
	Quote    string        `mapstructure:"quote"`
	Interval string        `mapstructure:"interval"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type Adapter struct {
	cfg      Config
	cli      *binance.Client
	throttle *source.Throttle
	now      func() time.Time
}

func NewAdapter(cli *binance.Client, cfg Config) *Adapter {
	if len(cfg.Bases) == 0 {
		cfg.Bases = defaultBases
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 2 * time.Minute
	}
	return &Adapter{
		cfg:      cfg,
		cli:      cli,
		throttle: source.NewThrottle(5, 10, cfg.Cooldown),
		now:      time.Now,
	}
}

func (a *Adapter) Name() string {
	return "binance"
}

func (a *Adapter) Fetch(ctx context.Context) ([]asset.Snapshot, error) {
	if err := a.throttle.Acquire(ctx); err != nil {
		return nil, err
	}

	stats, err := a.cli.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, a.wrapErr("list price change stats", err)
	}

	wanted := lo.SliceToMap(a.cfg.Bases, func(base string) (string, struct{}) {
		return base + a.cfg.Quote, struct{}{}
	})
	stats = lo.Filter(stats, func(item *binance.PriceChangeStats, index int) bool {
		_, ok := wanted[item.Symbol]
		return ok
	})

	var snapshots []asset.Snapshot
	for _, st := range stats {
		if err = a.throttle.Acquire(ctx); err != nil {
			return snapshots, err
		}
		snap, ok, err := a.evaluate(ctx, st)
		if err != nil {
			if source.Fatal(err) {
				return snapshots, err
			}
			slog.Warn("skip binance symbol", "symbol", st.Symbol, "error", err)
			continue
		}
		if ok {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots, nil
}

// evaluate 吸筹识别: 最近一根收盘K线放量但波动极小
func (a *Adapter) evaluate(ctx context.Context, st *binance.PriceChangeStats) (asset.Snapshot, bool, error) {
	klines, err := a.cli.NewKlinesService().
		Symbol(st.Symbol).
		Interval(a.cfg.Interval).
		Limit(volSMAPeriod + 5).
		Do(ctx)
	if err != nil {
		return asset.Snapshot{}, false, a.wrapErr("get klines", err)
	}
	if len(klines) < volSMAPeriod+2 {
		return asset.Snapshot{}, false, nil
	}

	volumes := make([]decimal.Decimal, 0, len(klines))
	for _, k := range klines {
		v, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return asset.Snapshot{}, false, fmt.Errorf("volume %q: %w", k.Volume, source.ErrParse)
		}
		volumes = append(volumes, v)
	}

	// 最后一根还在走, 用倒数第二根做判断
	last := klines[len(klines)-2]
	lastVol := volumes[len(volumes)-2]
	smaWindow := volumes[len(volumes)-2-volSMAPeriod : len(volumes)-2]
	volSMA := decimalx.Average(smaWindow)
	if volSMA.IsZero() {
		return asset.Snapshot{}, false, nil
	}

	open, err := decimal.NewFromString(last.Open)
	if err != nil || open.IsZero() {
		return asset.Snapshot{}, false, fmt.Errorf("open %q: %w", last.Open, source.ErrParse)
	}
	high, err := decimal.NewFromString(last.High)
	if err != nil {
		return asset.Snapshot{}, false, fmt.Errorf("high %q: %w", last.High, source.ErrParse)
	}
	low, err := decimal.NewFromString(last.Low)
	if err != nil {
		return asset.Snapshot{}, false, fmt.Errorf("low %q: %w", last.Low, source.ErrParse)
	}

	volRatio := lastVol.Div(volSMA)
	volatility := high.Sub(low).Div(open).Mul(decimal.NewFromInt(100))

	if !volRatio.GreaterThan(volumeRatioThreshold) || !volatility.LessThan(volatilityThreshold) {
		return asset.Snapshot{}, false, nil
	}

	// 成交量还要有上升趋势, 单根脉冲不算
	volSlope := decimalx.Slope(volumes[len(volumes)-6 : len(volumes)-1])
	if volSlope.IsNegative() {
		return asset.Snapshot{}, false, nil
	}

	price, err := decimal.NewFromString(st.LastPrice)
	if err != nil {
		return asset.Snapshot{}, false, fmt.Errorf("last price %q: %w", st.LastPrice, source.ErrParse)
	}
	change24h, err := decimal.NewFromString(st.PriceChangePercent)
	if err != nil {
		change24h = decimal.Zero
	}

	raw, _ := json.Marshal(st)
	return asset.Snapshot{
		Key: asset.Key{
			Platform: "binance",
			Symbol:   st.Symbol,
		},
		Symbol:         strings.TrimSuffix(st.Symbol, a.cfg.Quote),
		Platform:       "binance",
		Price:          price,
		Volume:         lastVol,
		PriceChange24h: change24h,
		Note: fmt.Sprintf("volume %sx above %d-period average, volatility only %s%%",
			volRatio.Round(1), volSMAPeriod, volatility.Round(2)),
		FetchedAt: a.now(),
		Raw:       raw,
	}, true, nil
}

func (a *Adapter) wrapErr(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "-1003") {
		a.throttle.Suspend()
		return fmt.Errorf("binance %s: %w", op, source.ErrRateLimited)
	}
	return fmt.Errorf("binance %s: %v: %w", op, err, source.ErrSourceUnavailable)
}
