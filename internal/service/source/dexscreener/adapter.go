package dexscreener

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

const defaultBaseURL = "https://api.dexscreener.com"

// 防割韭菜过滤阈值, 来自实盘经验:
// 低流动性池子极易被操纵, 5分钟内暴涨的大多是诱多
var (
	defaultMinLiquidityUSD  = decimal.NewFromInt(5_000)
	defaultMinVolumeH1USD   = decimal.NewFromInt(10_000)
	defaultMaxPriceChangeM5 = decimal.NewFromInt(300)
	defaultMaxFDVUSD        = decimal.NewFromInt(50_000_000)
	defaultMaxPriceChangeH1 = decimal.NewFromInt(3)

	volumeAnomalyRatio = decimal.NewFromInt(3)
)

const defaultMinPairAge = 10 * time.Minute

type Config struct {
	BaseURL          string        `mapstructure:"base_url"`
	Chains           []string      `mapstructure:"chains"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	MinLiquidityUSD  decimal.Decimal
	MinVolumeH1USD   decimal.Decimal
	MaxPriceChangeM5 decimal.Decimal
	MaxFDVUSD        decimal.Decimal
	MinPairAge       time.Duration
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
	if len(cfg.Chains) == 0 {
		cfg.Chains = []string{"solana"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.MinLiquidityUSD.IsZero() {
		cfg.MinLiquidityUSD = defaultMinLiquidityUSD
	}
	if cfg.MinVolumeH1USD.IsZero() {
		cfg.MinVolumeH1USD = defaultMinVolumeH1USD
	}
	if cfg.MaxPriceChangeM5.IsZero() {
		cfg.MaxPriceChangeM5 = defaultMaxPriceChangeM5
	}
	if cfg.MaxFDVUSD.IsZero() {
		cfg.MaxFDVUSD = defaultMaxFDVUSD
	}
	if cfg.MinPairAge == 0 {
		cfg.MinPairAge = defaultMinPairAge
	}
	return &Adapter{
		cfg:      cfg,
		cli:      &http.Client{Timeout: cfg.Timeout},
		throttle: source.NewThrottle(1, 2, cfg.Cooldown),
		now:      time.Now,
	}
}

func (a *Adapter) Name() string {
	return "dexscreener"
}

func (a *Adapter) Fetch(ctx context.Context) ([]asset.Snapshot, error) {
	var snapshots []asset.Snapshot
	for _, chain := range a.cfg.Chains {
		if err := a.throttle.Acquire(ctx); err != nil {
			return snapshots, err
		}
		pairs, err := a.search(ctx, chain)
		if err != nil {
			return snapshots, err
		}
		snapshots = append(snapshots, a.filterPairs(chain, pairs)...)
	}
	return snapshots, nil
}

type pairResp struct {
	ChainId   string `json:"chainId"`
	DexId     string `json:"dexId"`
	PairAddr  string `json:"pairAddress"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUsd string `json:"priceUsd"`
	Volume   struct {
		H24 float64 `json:"h24"`
		H1  float64 `json:"h1"`
	} `json:"volume"`
	PriceChange struct {
		M5  float64 `json:"m5"`
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
	Fdv           float64 `json:"fdv"`
	PairCreatedAt int64   `json:"pairCreatedAt"`
}

func (a *Adapter) search(ctx context.Context, chain string) ([]pairResp, error) {
	url := fmt.Sprintf("%s/latest/dex/search?q=%s", a.cfg.BaseURL, chain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", source.ErrSourceUnavailable)
	}

	resp, err := a.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener search %s: %v: %w", chain, err, source.ErrSourceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		a.throttle.Suspend()
		return nil, fmt.Errorf("dexscreener search %s: %w", chain, source.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dexscreener search %s: status %d: %w", chain, resp.StatusCode, source.ErrSourceUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", source.ErrSourceUnavailable)
	}

	var result struct {
		Pairs []pairResp `json:"pairs"`
	}
	if err = json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode search response: %v: %w", err, source.ErrParse)
	}
	return result.Pairs, nil
}

// filterPairs 逐对应用防割过滤, 单条坏数据跳过不影响整体
func (a *Adapter) filterPairs(chain string, pairs []pairResp) []asset.Snapshot {
	var out []asset.Snapshot
	for _, p := range pairs {
		snap, ok, err := a.evaluate(chain, p)
		if err != nil {
			slog.Warn("skip dexscreener pair", "chain", chain, "pair", p.PairAddr, "error", err)
			continue
		}
		if ok {
			out = append(out, snap)
		}
	}
	return out
}

func (a *Adapter) evaluate(chain string, p pairResp) (asset.Snapshot, bool, error) {
	if p.BaseToken.Symbol == "" || p.PairAddr == "" {
		return asset.Snapshot{}, false, fmt.Errorf("missing token fields: %w", source.ErrParse)
	}
	price, err := decimal.NewFromString(p.PriceUsd)
	if err != nil {
		return asset.Snapshot{}, false, fmt.Errorf("price %q: %w", p.PriceUsd, source.ErrParse)
	}

	liquidity := decimal.NewFromFloat(p.Liquidity.Usd)
	volH1 := decimal.NewFromFloat(p.Volume.H1)
	volH24 := decimal.NewFromFloat(p.Volume.H24)
	changeM5 := decimal.NewFromFloat(p.PriceChange.M5)
	changeH1 := decimal.NewFromFloat(p.PriceChange.H1)
	fdv := decimal.NewFromFloat(p.Fdv)

	// 流动性/成交量门槛
	if liquidity.LessThan(a.cfg.MinLiquidityUSD) {
		return asset.Snapshot{}, false, nil
	}
	if volH1.LessThan(a.cfg.MinVolumeH1USD) {
		return asset.Snapshot{}, false, nil
	}
	// 5分钟内暴涨暴跌是经典的拉盘诱饵
	if changeM5.Abs().GreaterThan(a.cfg.MaxPriceChangeM5) {
		return asset.Snapshot{}, false, nil
	}
	// 太新的池子前几分钟全是机器人在打架
	if p.PairCreatedAt > 0 {
		age := a.now().Sub(time.UnixMilli(p.PairCreatedAt))
		if age < a.cfg.MinPairAge {
			return asset.Snapshot{}, false, nil
		}
	}
	if fdv.GreaterThan(a.cfg.MaxFDVUSD) && fdv.IsPositive() {
		return asset.Snapshot{}, false, nil
	}

	// 静默吸筹: 小时成交量显著高于日均值但价格基本没动
	if volH24.IsZero() {
		return asset.Snapshot{}, false, nil
	}
	avgVolH1 := volH24.Div(decimal.NewFromInt(24))
	if avgVolH1.IsZero() {
		return asset.Snapshot{}, false, nil
	}
	anomaly := volH1.Div(avgVolH1)
	stable := changeH1.Abs().LessThan(defaultMaxPriceChangeH1)
	if !anomaly.GreaterThan(volumeAnomalyRatio) || !stable {
		return asset.Snapshot{}, false, nil
	}

	raw, _ := json.Marshal(p)
	return asset.Snapshot{
		Key: asset.Key{
			Chain:    chain,
			Contract: p.BaseToken.Address,
		},
		Symbol:         p.BaseToken.Symbol,
		Platform:       "dexscreener",
		Price:          price,
		Volume:         volH1,
		Liquidity:      liquidity,
		HasLiquidity:   true,
		PriceChange24h: decimal.NewFromFloat(p.PriceChange.H24),
		Note:           fmt.Sprintf("volume %sx hourly average with stable price on %s", anomaly.Round(1), p.DexId),
		FetchedAt:      a.now(),
		Raw:            raw,
	}, true, nil
}
