package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/pkg/convert"
	symbolpkg "tradeengine/internal/pkg/symbol"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
)

const (
	gateSettle          = "usdt"
	gateMaxHistoryLimit = 2000
	gateMaxDepth        = 300
	defaultGateREST     = "https://api.gateio.ws/api/v4"
)

// Source implements market.Source for Gate USDT-settled futures.
type Source struct {
	cfg  Config
	rest *gateapi.APIClient
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	restClient, err := newRESTClient(final)
	if err != nil {
		return nil, err
	}
	return &Source{cfg: final, rest: restClient}, nil
}

func newRESTClient(cfg Config) (*gateapi.APIClient, error) {
	conf := gateapi.NewConfiguration()
	conf.BasePath = cfg.RESTBaseURL

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyEnabled && cfg.RESTProxyURL != "" {
		proxyURL, err := url.Parse(cfg.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid gate REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	conf.HTTPClient = httpClient
	return gateapi.NewAPIClient(conf), nil
}

func (s *Source) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, limit int) (market.Candles, error) {
	if s == nil || s.rest == nil {
		return nil, fmt.Errorf("gate source not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	req := limit + 1
	if req > gateMaxHistoryLimit {
		req = gateMaxHistoryLimit
	}
	normalized := symbolpkg.Normalize(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	dur, ok := tf.Duration()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", market.ErrDataUnavailable, tf)
	}
	interval := strings.ToLower(tf.String())

	kls, _, err := s.rest.FuturesApi.ListFuturesCandlesticks(ctx, gateSettle, symbolpkg.ToGate(normalized), &gateapi.ListFuturesCandlesticksOpts{
		Limit:    optional.NewInt32(int32(req)),
		Interval: optional.NewString(interval),
	})
	if err != nil {
		logger.Errorf("[gate] fetch kline failed %s %s limit=%d: %v", symbol, interval, req, err)
		return nil, fmt.Errorf("%w: klines %s %s: %v", market.ErrDataUnavailable, symbol, interval, err)
	}

	out := make(market.Candles, 0, len(kls))
	for _, kl := range kls {
		openTime := int64(kl.T * 1000)
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime + dur.Milliseconds() - 1,
			Open:      convert.ToFloat64(kl.O),
			High:      convert.ToFloat64(kl.H),
			Low:       convert.ToFloat64(kl.L),
			Close:     convert.ToFloat64(kl.C),
			Volume:    convert.ToFloat64(kl.Sum),
		})
	}
	out = out.DropUnclosed(dur, s.cfg.Now())
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Source) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	if s == nil || s.rest == nil {
		return market.OrderBook{}, fmt.Errorf("gate source not initialized")
	}
	limit := depth
	if limit <= 0 || limit > gateMaxDepth {
		limit = gateMaxDepth
	}
	res, _, err := s.rest.FuturesApi.ListFuturesOrderBook(ctx, gateSettle, symbolpkg.ToGate(symbol), &gateapi.ListFuturesOrderBookOpts{
		Limit: optional.NewInt32(int32(limit)),
	})
	if err != nil {
		return market.OrderBook{}, fmt.Errorf("%w: order book %s: %v", market.ErrDataUnavailable, symbol, err)
	}
	book := market.OrderBook{
		Symbol:    symbol,
		Bids:      make([]market.Level, 0, len(res.Bids)),
		Asks:      make([]market.Level, 0, len(res.Asks)),
		Timestamp: s.cfg.Now().UTC(),
	}
	if res.Current > 0 {
		book.Timestamp = time.UnixMilli(int64(res.Current * 1000)).UTC()
	}
	// Sizes are contract counts; their Go type differs across SDK releases.
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, market.Level{Price: convert.ToFloat64(b.P), Size: convert.ToFloat64(b.S)})
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, market.Level{Price: convert.ToFloat64(a.P), Size: convert.ToFloat64(a.S)})
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
