package timeframe

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/analysis/indicator"
	"tradeengine/internal/market"
	"tradeengine/internal/types"
)

type stubSource struct {
	candles market.Candles
	err     error
	limit   int
}

func (s *stubSource) FetchCandles(_ context.Context, _ string, _ market.Timeframe, limit int) (market.Candles, error) {
	s.limit = limit
	return s.candles, s.err
}

func (s *stubSource) FetchOrderBook(context.Context, string, int) (market.OrderBook, error) {
	return market.OrderBook{}, nil
}

var venue = market.Venue{Exchange: "paper", MarketType: market.MarketFutures}

func registryWith(src market.Source) *market.Registry {
	r := market.NewRegistry()
	r.Register(venue, src)
	return r
}

func rising(n int) market.Candles {
	out := make(market.Candles, n)
	for i := range out {
		p := 100 + float64(i)*2
		out[i] = market.Candle{OpenTime: int64(i) * 60_000, Open: p - 1, High: p + 1, Low: p - 2, Close: p, Volume: 10}
	}
	return out
}

func results(classes ...indicator.Class) []indicator.Result {
	out := make([]indicator.Result, len(classes))
	for i, c := range classes {
		out[i] = indicator.Result{Name: "x", Class: c}
	}
	return out
}

func TestDeriveRules(t *testing.T) {
	cases := []struct {
		name string
		in   []indicator.Result
		dir  types.Direction
		conf float64
	}{
		{"empty", nil, types.DirNeutral, 0},
		{"strong buy", results(indicator.Bullish, indicator.Oversold, indicator.Neutral), types.StrongBuy, 2.0 / 3},
		{"buy", results(indicator.Bullish, indicator.Bullish, indicator.Bearish, indicator.Neutral, indicator.Neutral), types.Buy, 0.4},
		{"strong sell", results(indicator.Overbought, indicator.Bearish, indicator.Bullish), types.StrongSell, 2.0 / 3},
		{"sell", results(indicator.Bearish, indicator.Neutral, indicator.Neutral), types.Sell, 1.0 / 3},
		{"tie", results(indicator.Bullish, indicator.Bearish), types.DirNeutral, 0},
		{"all neutral", results(indicator.Neutral, indicator.Neutral), types.DirNeutral, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir, conf := Derive(tc.in)
			assert.Equal(t, tc.dir, dir)
			assert.InDelta(t, tc.conf, conf, 1e-9)
		})
	}
}

func TestDeriveProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	classes := []indicator.Class{indicator.Neutral, indicator.Bullish, indicator.Bearish, indicator.Overbought, indicator.Oversold}
	for i := 0; i < 2000; i++ {
		n := rng.Intn(8)
		in := make([]indicator.Result, n)
		bull, bear := 0, 0
		for j := range in {
			in[j] = indicator.Result{Class: classes[rng.Intn(len(classes))]}
			switch in[j].Class.Lean() {
			case 1:
				bull++
			case -1:
				bear++
			}
		}
		dir, conf := Derive(in)
		require.GreaterOrEqual(t, conf, 0.0)
		require.LessOrEqual(t, conf, 1.0)
		switch {
		case bull > bear:
			require.Equal(t, 1, dir.Sign(), "bull=%d bear=%d", bull, bear)
		case bear > bull:
			require.Equal(t, -1, dir.Sign(), "bull=%d bear=%d", bull, bear)
		default:
			require.Equal(t, types.DirNeutral, dir)
		}
	}
}

func TestAnalyzeReturnsVerdict(t *testing.T) {
	src := &stubSource{candles: rising(60)}
	a := NewAnalyzer(registryWith(src), Options{})

	v := a.Analyze(context.Background(), "BTC/USDT", market.TF1h, venue)
	require.NotNil(t, v)
	assert.Equal(t, market.TF1h, v.Timeframe)
	dir, conf := Derive(v.Indicators)
	assert.Equal(t, dir, v.Direction)
	assert.Equal(t, conf, v.Confidence)
	assert.Len(t, v.Indicators, len(indicator.Names))
	assert.Equal(t, defaultLimit, src.limit)
	assert.InDelta(t, 218.0, v.LastClose, 1e-9)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a := NewAnalyzer(registryWith(&stubSource{candles: rising(MinCandles - 1)}), Options{})
	assert.Nil(t, a.Analyze(context.Background(), "BTC/USDT", market.TF1h, venue))
}

func TestAnalyzeFetchError(t *testing.T) {
	a := NewAnalyzer(registryWith(&stubSource{err: errors.New("boom")}), Options{})
	assert.Nil(t, a.Analyze(context.Background(), "BTC/USDT", market.TF1h, venue))
}

func TestAnalyzeUnknownVenue(t *testing.T) {
	a := NewAnalyzer(market.NewRegistry(), Options{})
	assert.Nil(t, a.Analyze(context.Background(), "BTC/USDT", market.TF1h, venue))
}
