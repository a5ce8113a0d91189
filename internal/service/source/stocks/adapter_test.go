package stocks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KNICEX/market-hunter/internal/service/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chartPayload(price float64, closes, volumes []float64) map[string]any {
	return map[string]any{
		"chart": map[string]any{
			"result": []map[string]any{{
				"meta": map[string]any{
					"regularMarketPrice": price,
					"currency":           "USD",
				},
				"indicators": map[string]any{
					"quote": []map[string]any{{
						"close":  closes,
						"volume": volumes,
					}},
				},
			}},
		},
	}
}

func serveCharts(t *testing.T, bySymbol map[string]map[string]any) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Path[len("/v8/finance/chart/"):]
		payload, ok := bySymbol[symbol]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "15m", r.URL.Query().Get("interval"))
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAdapter_DipDetected(t *testing.T) {
	// 1小时前(倒数第4根) 100 -> 当前 97.5, 跌2.5%, 量能平稳
	closes := []float64{101, 100.5, 100, 99.2, 98.1, 97.5}
	volumes := []float64{1000, 1100, 1000, 950, 1000, 1200}
	srv := serveCharts(t, map[string]map[string]any{
		"NVDA": chartPayload(97.5, closes, volumes),
	})
	a := NewAdapter(Config{BaseURL: srv.URL, Symbols: []string{"NVDA"}})

	snaps, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "stocks:NVDA", snaps[0].Key.String())
	assert.False(t, snaps[0].HasLiquidity)
	assert.Contains(t, snaps[0].Note, "dip")
}

func TestAdapter_BreakoutNeedsVolumeConfirmation(t *testing.T) {
	closes := []float64{100, 100.2, 100.1, 100.5, 102, 103.8}

	// 涨3.28%但量能不足2倍 — 无确认不触发
	quiet := []float64{1000, 1000, 1100, 1000, 1050, 1500}
	srv := serveCharts(t, map[string]map[string]any{
		"TSLA": chartPayload(103.8, closes, quiet),
	})
	a := NewAdapter(Config{BaseURL: srv.URL, Symbols: []string{"TSLA"}})
	snaps, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps)

	// 相同涨幅配3倍量能 — 触发
	loud := []float64{1000, 1000, 1100, 1000, 1050, 3100}
	srv2 := serveCharts(t, map[string]map[string]any{
		"TSLA": chartPayload(103.8, closes, loud),
	})
	a2 := NewAdapter(Config{BaseURL: srv2.URL, Symbols: []string{"TSLA"}})
	snaps, err = a2.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Contains(t, snaps[0].Note, "breakout")
	assert.Contains(t, snaps[0].Note, "volume confirmation")
}

func TestAdapter_MarketClosedNullsCompacted(t *testing.T) {
	// 休市区间的 null 反序列化成 0, 剔除后不足5根K线则不判型
	closes := []float64{0, 0, 100, 0, 99, 0}
	volumes := []float64{0, 0, 1000, 0, 900, 0}
	srv := serveCharts(t, map[string]map[string]any{
		"PETR4.SA": chartPayload(99, closes, volumes),
	})
	a := NewAdapter(Config{BaseURL: srv.URL, Symbols: []string{"PETR4.SA"}})

	snaps, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestAdapter_BadSymbolSkippedOthersSurvive(t *testing.T) {
	closes := []float64{101, 100.5, 100, 99.2, 98.1, 97.5}
	volumes := []float64{1000, 1100, 1000, 950, 1000, 1200}
	srv := serveCharts(t, map[string]map[string]any{
		"NVDA": chartPayload(97.5, closes, volumes),
	})
	a := NewAdapter(Config{BaseURL: srv.URL, Symbols: []string{"BOGUS", "NVDA"}})

	// BOGUS 404 是单条坏数据, 不能拖垮整个数据源
	snaps, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "NVDA", snaps[0].Symbol)
}

func TestAdapter_RateLimitedSuspends(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	a := NewAdapter(Config{BaseURL: srv.URL, Symbols: []string{"AAPL", "MSFT"}})

	_, err := a.Fetch(context.Background())
	assert.ErrorIs(t, err, source.ErrRateLimited)
	// 第一个符号触发冷却后立即止损, 不再请求后续符号
	assert.Equal(t, 1, calls)
}
