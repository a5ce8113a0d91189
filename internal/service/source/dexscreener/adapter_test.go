package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KNICEX/market-hunter/internal/service/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodPair(addr string) map[string]any {
	// 静默吸筹样本: 日均时成交 100k/24 ≈ 4.2k, h1 有 20k 且价格稳
	return map[string]any{
		"chainId":     "solana",
		"dexId":       "raydium",
		"pairAddress": "pair-" + addr,
		"baseToken": map[string]any{
			"address": addr,
			"name":    "Good Token",
			"symbol":  "GOOD",
		},
		"priceUsd": "0.0123",
		"volume":   map[string]any{"h24": 100_000.0, "h1": 20_000.0},
		"priceChange": map[string]any{
			"m5": 0.5, "h1": 1.2, "h24": 8.0,
		},
		"liquidity":     map[string]any{"usd": 50_000.0},
		"fdv":           2_000_000.0,
		"pairCreatedAt": time.Now().Add(-24 * time.Hour).UnixMilli(),
	}
}

func serve(t *testing.T, pairs []map[string]any) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/search", r.URL.Path)
		assert.Equal(t, "solana", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(map[string]any{"pairs": pairs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(baseURL string) *Adapter {
	return NewAdapter(Config{BaseURL: baseURL, Chains: []string{"solana"}})
}

func TestAdapter_QuietAccumulationAccepted(t *testing.T) {
	srv := serve(t, []map[string]any{goodPair("So1111")})
	a := newTestAdapter(srv.URL)

	snaps, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	snap := snaps[0]
	assert.Equal(t, "solana", snap.Key.Chain)
	assert.Equal(t, "So1111", snap.Key.Contract)
	assert.Equal(t, "solana:So1111", snap.Key.String())
	assert.Equal(t, "GOOD", snap.Symbol)
	assert.Equal(t, "dexscreener", snap.Platform)
	assert.True(t, snap.HasLiquidity)
	assert.Contains(t, snap.Note, "hourly average")
}

func TestAdapter_ScamFilters(t *testing.T) {
	mutate := func(fn func(p map[string]any)) map[string]any {
		p := goodPair("So2222")
		fn(p)
		return p
	}
	tests := []struct {
		name string
		pair map[string]any
	}{
		{"low liquidity", mutate(func(p map[string]any) {
			p["liquidity"] = map[string]any{"usd": 1_000.0}
		})},
		{"thin hourly volume", mutate(func(p map[string]any) {
			p["volume"] = map[string]any{"h24": 100_000.0, "h1": 500.0}
		})},
		{"m5 pump bait", mutate(func(p map[string]any) {
			p["priceChange"] = map[string]any{"m5": 450.0, "h1": 1.0, "h24": 8.0}
		})},
		{"pair too young", mutate(func(p map[string]any) {
			p["pairCreatedAt"] = time.Now().Add(-2 * time.Minute).UnixMilli()
		})},
		{"fdv too high", mutate(func(p map[string]any) {
			p["fdv"] = 90_000_000.0
		})},
		{"price moving with volume", mutate(func(p map[string]any) {
			p["priceChange"] = map[string]any{"m5": 0.5, "h1": 12.0, "h24": 8.0}
		})},
		{"no volume anomaly", mutate(func(p map[string]any) {
			p["volume"] = map[string]any{"h24": 600_000.0, "h1": 20_000.0}
		})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, []map[string]any{tc.pair})
			a := newTestAdapter(srv.URL)
			snaps, err := a.Fetch(context.Background())
			require.NoError(t, err)
			assert.Empty(t, snaps)
		})
	}
}

func TestAdapter_BadRecordSkipped(t *testing.T) {
	bad := goodPair("So3333")
	bad["priceUsd"] = "not-a-number"
	srv := serve(t, []map[string]any{bad, goodPair("So4444")})
	a := newTestAdapter(srv.URL)

	snaps, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "So4444", snaps[0].Key.Contract)
}

func TestAdapter_RateLimitedSuspends(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	a := newTestAdapter(srv.URL)

	_, err := a.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrRateLimited)
	assert.True(t, source.Fatal(err))

	// 冷却期内不再打上游
	_, err = a.Fetch(context.Background())
	assert.ErrorIs(t, err, source.ErrRateLimited)
	assert.Equal(t, 1, calls)
}

func TestAdapter_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>gateway error</html>")
	}))
	t.Cleanup(srv.Close)
	a := newTestAdapter(srv.URL)

	_, err := a.Fetch(context.Background())
	assert.ErrorIs(t, err, source.ErrParse)
}
