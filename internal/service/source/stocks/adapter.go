package stocks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/KNICEX/market-hunter/internal/service/asset"
	"github.com/KNICEX/market-hunter/internal/service/source"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// B3 + 美股默认观察列表
var defaultSymbols = []string{
	"PETR4.SA", "VALE3.SA", "ITUB4.SA", "BBDC4.SA", "WEGE3.SA",
	"AAPL", "GOOGL", "MSFT", "AMZN", "NVDA", "TSLA", "META", "AMD",
}

var (
	dipThresholdPct      = decimal.NewFromInt(-2)
	breakoutThresholdPct = decimal.NewFromInt(3)
	volumeSpikeThreshold = decimal.NewFromInt(2)
)

type Config struct {
	BaseURL  string        `mapstructure:"base_url"`
	Symbols  []string      `mapstructure:"symbols"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type Adapter struct {
	cfg      Config
	cli      *http.Client
	throttle *source.Throttle
	now      func() time.Time
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = defaultSymbols
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Adapter{
		cfg:      cfg,
		cli:      &http.Client{Timeout: cfg.Timeout},
		throttle: source.NewThrottle(2, 4, cfg.Cooldown),
		now:      time.Now,
	}
}

func (a *Adapter) Name() string {
	return "stocks"
}

func (a *Adapter) Fetch(ctx context.Context) ([]asset.Snapshot, error) {
	var snapshots []asset.Snapshot
	for _, symbol := range a.cfg.Symbols {
		if err := a.throttle.Acquire(ctx); err != nil {
			return snapshots, err
		}
		snap, ok, err := a.scan(ctx, symbol)
		if err != nil {
			if source.Fatal(err) {
				return snapshots, err
			}
			slog.Warn("skip stock symbol", "symbol", symbol, "error", err)
			continue
		}
		if ok {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots, nil
}

type chartResp struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				Currency           string  `json:"currency"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (a *Adapter) scan(ctx context.Context, symbol string) (asset.Snapshot, bool, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?interval=15m&range=1d", a.cfg.BaseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return asset.Snapshot{}, false, fmt.Errorf("build request: %w", source.ErrSourceUnavailable)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := a.cli.Do(req)
	if err != nil {
		return asset.Snapshot{}, false, fmt.Errorf("chart %s: %v: %w", symbol, err, source.ErrSourceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		a.throttle.Suspend()
		return asset.Snapshot{}, false, fmt.Errorf("chart %s: %w", symbol, source.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return asset.Snapshot{}, false, fmt.Errorf("chart %s: status %d: %w", symbol, resp.StatusCode, source.ErrParse)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return asset.Snapshot{}, false, fmt.Errorf("read body: %w", source.ErrSourceUnavailable)
	}

	var chart chartResp
	if err = json.Unmarshal(body, &chart); err != nil {
		return asset.Snapshot{}, false, fmt.Errorf("decode chart %s: %v: %w", symbol, err, source.ErrParse)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return asset.Snapshot{}, false, fmt.Errorf("empty chart for %s: %w", symbol, source.ErrParse)
	}

	quote := chart.Chart.Result[0].Indicators.Quote[0]
	return a.detect(symbol, chart.Chart.Result[0].Meta.RegularMarketPrice, quote.Close, quote.Volume)
}

// detect 15m K线上找两种形态:
// DIP: 1小时内跌超2%且量能正常(不是恐慌盘), 技术性回调
// BREAKOUT: 1小时内涨超3%且量能2倍确认
func (a *Adapter) detect(symbol string, lastPrice float64, closes, volumes []float64) (asset.Snapshot, bool, error) {
	closes = compact(closes)
	volumes = compact(volumes)
	if len(closes) < 5 || len(volumes) < 5 {
		return asset.Snapshot{}, false, nil
	}

	priceNow := decimal.NewFromFloat(closes[len(closes)-1])
	price1hAgo := decimal.NewFromFloat(closes[len(closes)-4])
	if price1hAgo.IsZero() {
		return asset.Snapshot{}, false, nil
	}
	change1h := priceNow.Sub(price1hAgo).Div(price1hAgo).Mul(decimal.NewFromInt(100))

	avgVol := decimal.NewFromFloat(mean(volumes[:len(volumes)-1]))
	volNow := decimal.NewFromFloat(volumes[len(volumes)-1])
	volRatio := decimal.NewFromInt(1)
	if avgVol.IsPositive() {
		volRatio = volNow.Div(avgVol)
	}

	var note string
	switch {
	case change1h.LessThanOrEqual(dipThresholdPct) && volRatio.LessThan(volumeSpikeThreshold):
		note = fmt.Sprintf("dip of %s%% in the last hour on normal volume", change1h.Round(2))
	case change1h.GreaterThanOrEqual(breakoutThresholdPct) && volRatio.GreaterThanOrEqual(volumeSpikeThreshold):
		note = fmt.Sprintf("breakout of %s%% with %sx volume confirmation", change1h.Round(2), volRatio.Round(1))
	default:
		return asset.Snapshot{}, false, nil
	}

	price := decimal.NewFromFloat(lastPrice)
	if price.IsZero() {
		price = priceNow
	}

	raw, _ := json.Marshal(map[string]any{
		"symbol":    symbol,
		"change_1h": change1h,
		"vol_ratio": volRatio,
	})
	return asset.Snapshot{
		Key: asset.Key{
			Platform: "stocks",
			Symbol:   symbol,
		},
		Symbol:         symbol,
		Platform:       "stocks",
		Price:          price,
		Volume:         volNow,
		PriceChange24h: change1h,
		Note:           note,
		FetchedAt:      a.now(),
		Raw:            raw,
	}, true, nil
}

// yahoo 会在休市区间塞 null, 反序列化后是 0, 直接剔除
func compact(values []float64) []float64 {
	out := values[:0:0]
	for _, v := range values {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
