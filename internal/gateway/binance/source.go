package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/pkg/convert"
	symbolpkg "tradeengine/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	maxHistoryLimit = 1500
	maxDepthLimit   = 1000
)

// depth limits the venue accepts; other values are rounded up.
var depthSteps = []int{5, 10, 20, 50, 100, 500, 1000}

// Source implements market.Source on top of the go-binance futures SDK.
type Source struct {
	cfg    Config
	client *futures.Client
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client, err := newFuturesClient(final)
	if err != nil {
		return nil, err
	}
	return &Source{cfg: final, client: client}, nil
}

func (s *Source) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, limit int) (market.Candles, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	// One extra bar covers the still-forming one we drop below.
	req := limit + 1
	if req > maxHistoryLimit {
		req = maxHistoryLimit
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	dur, ok := tf.Duration()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", market.ErrDataUnavailable, tf)
	}
	kls, err := s.client.NewKlinesService().
		Symbol(symbolpkg.ToBinance(symbol)).
		Interval(strings.ToLower(tf.String())).
		Limit(req).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: klines %s %s: %v", market.ErrDataUnavailable, symbol, tf, err)
	}
	out := make(market.Candles, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      convert.ToFloat64(kl.Open),
			High:      convert.ToFloat64(kl.High),
			Low:       convert.ToFloat64(kl.Low),
			Close:     convert.ToFloat64(kl.Close),
			Volume:    convert.ToFloat64(kl.Volume),
		})
	}
	if n := len(out); n > 0 {
		if out = out.DropUnclosed(dur, s.cfg.Now()); len(out) < n {
			logger.Debugf("[binance] drop unclosed bar %s %s", symbol, tf)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Source) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	if s == nil || s.client == nil {
		return market.OrderBook{}, fmt.Errorf("binance source not initialized")
	}
	res, err := s.client.NewDepthService().
		Symbol(symbolpkg.ToBinance(symbol)).
		Limit(depthLimit(depth)).
		Do(ctx)
	if err != nil {
		return market.OrderBook{}, fmt.Errorf("%w: depth %s: %v", market.ErrDataUnavailable, symbol, err)
	}
	book := market.OrderBook{
		Symbol:    symbol,
		Bids:      make([]market.Level, 0, len(res.Bids)),
		Asks:      make([]market.Level, 0, len(res.Asks)),
		Timestamp: s.cfg.Now().UTC(),
	}
	if res.TradeTime > 0 {
		book.Timestamp = time.UnixMilli(res.TradeTime).UTC()
	}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, market.Level{Price: convert.ToFloat64(b.Price), Size: convert.ToFloat64(b.Quantity)})
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, market.Level{Price: convert.ToFloat64(a.Price), Size: convert.ToFloat64(a.Quantity)})
	}
	book = book.Sorted()
	if depth > 0 {
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
	}
	return book, nil
}

func depthLimit(depth int) int {
	for _, step := range depthSteps {
		if depth <= step {
			return step
		}
	}
	return maxDepthLimit
}
