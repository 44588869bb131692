package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/market"
	"tradeengine/internal/types"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frozen = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func kline(open time.Time, dur time.Duration, c string) string {
	o := open.UnixMilli()
	return fmt.Sprintf(`[%d,"%s","%s","%s","%s","10.5",%d,"1000",42,"5","500","0"]`, o, c, c, c, c, o+dur.Milliseconds()-1)
}

func newVenue(t *testing.T, mux *http.ServeMux) Config {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return Config{RESTBaseURL: srv.URL, APIKey: "k", APISecret: "s", Now: func() time.Time { return frozen }}
}

func TestFetchCandlesDropsFormingBar(t *testing.T) {
	mux := http.NewServeMux()
	var gotSymbol, gotInterval string
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		gotSymbol = r.URL.Query().Get("symbol")
		gotInterval = r.URL.Query().Get("interval")
		base := frozen.Truncate(time.Hour).Add(-2 * time.Hour)
		fmt.Fprintf(w, "[%s,%s,%s]",
			kline(base, time.Hour, "100"),
			kline(base.Add(time.Hour), time.Hour, "101"),
			kline(base.Add(2*time.Hour), time.Hour, "102"))
	})
	src, err := New(newVenue(t, mux))
	require.NoError(t, err)

	candles, err := src.FetchCandles(context.Background(), "BTC/USDT", market.Timeframe("1h"), 10)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", gotSymbol)
	assert.Equal(t, "1h", gotInterval)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.0, candles[1].Close)
	assert.Equal(t, 10.5, candles[0].Volume)
}

func TestFetchCandlesUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})
	src, err := New(newVenue(t, mux))
	require.NoError(t, err)
	_, err = src.FetchCandles(context.Background(), "NOPE/USDT", market.Timeframe("1h"), 10)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)

	_, err = src.FetchCandles(context.Background(), "BTC/USDT", market.Timeframe("7m"), 10)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}

func TestFetchOrderBook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/depth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"lastUpdateId":1,"E":1709296200000,"T":1709296200000,
			"bids":[["99.5","2"],["100","1"],["99","0"]],
			"asks":[["101","3"],["100.5","1"]]}`))
	})
	src, err := New(newVenue(t, mux))
	require.NoError(t, err)
	book, err := src.FetchOrderBook(context.Background(), "BTC/USDT", 20)
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, 100.0, book.Bids[0].Price)
	assert.Equal(t, 100.5, book.Asks[0].Price)
	assert.InDelta(t, 100.25, book.Mid(), 1e-9)
}

func TestDepthLimit(t *testing.T) {
	assert.Equal(t, 5, depthLimit(0))
	assert.Equal(t, 20, depthLimit(11))
	assert.Equal(t, 1000, depthLimit(5000))
}

func TestPlaceOrderSendsLinkID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "te-abc", r.Form.Get("newClientOrderId"))
		assert.Equal(t, "BUY", r.Form.Get("side"))
		assert.Equal(t, "MARKET", r.Form.Get("type"))
		assert.Equal(t, "0.015", r.Form.Get("quantity"))
		_, _ = w.Write([]byte(`{"orderId":12345,"clientOrderId":"te-abc","symbol":"BTCUSDT","status":"FILLED",
			"executedQty":"0.015","avgPrice":"65010.2","side":"BUY","type":"MARKET","updateTime":1709296200000}`))
	})
	gw, err := NewOrderGateway(newVenue(t, mux))
	require.NoError(t, err)

	rep, err := gw.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:      "BTC/USDT",
		Side:        types.SideBuy,
		Quantity:    decimal.RequireFromString("0.015"),
		OrderLinkID: "te-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", rep.OrderID)
	assert.Equal(t, exchange.StatusFilled, rep.Status)
	assert.True(t, rep.AvgPrice.Equal(decimal.RequireFromString("65010.2")))
	assert.True(t, rep.Filled())
}

func TestPlaceOrderRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})
	gw, err := NewOrderGateway(newVenue(t, mux))
	require.NoError(t, err)
	rep, err := gw.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTC/USDT", Side: types.SideSell, Quantity: decimal.NewFromInt(1), OrderLinkID: "te-x",
	})
	assert.ErrorIs(t, err, exchange.ErrOrderRejected)
	assert.Equal(t, exchange.StatusRejected, rep.Status)
	assert.Contains(t, rep.Reason, "Margin is insufficient")
}

func TestRetryAfterUnknownStatusDoesNotDoubleFill(t *testing.T) {
	const filled = `{"orderId":777,"clientOrderId":"te-abc","symbol":"BTCUSDT","status":"FILLED",
		"executedQty":"0.015","avgPrice":"65000","side":"BUY","type":"MARKET","updateTime":1709296200000}`
	var mu sync.Mutex
	fills, posts := 0, 0
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			posts++
			fills++
			if posts == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"code":-1007,"msg":"Timeout waiting for response from backend server. Send status unknown; execution status unknown."}`))
				return
			}
			_, _ = w.Write([]byte(filled))
		case http.MethodGet:
			assert.Equal(t, "te-abc", r.URL.Query().Get("origClientOrderId"))
			if fills == 0 {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
				return
			}
			_, _ = w.Write([]byte(filled))
		}
	})
	gw, err := NewOrderGateway(newVenue(t, mux))
	require.NoError(t, err)
	resilient := exchange.NewResilient(gw, exchange.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)

	rep, err := resilient.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:      "BTC/USDT",
		Side:        types.SideBuy,
		Quantity:    decimal.RequireFromString("0.015"),
		OrderLinkID: "te-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, rep.Status)
	assert.Equal(t, "777", rep.OrderID)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fills, "one link id must produce one entry")
	assert.Equal(t, 1, posts)
}

func TestQueryOrderUnknown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "te-missing", r.URL.Query().Get("origClientOrderId"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	})
	gw, err := NewOrderGateway(newVenue(t, mux))
	require.NoError(t, err)
	_, found, err := gw.QueryOrder(context.Background(), "BTC/USDT", "te-missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClassify(t *testing.T) {
	transport := errors.New("connection reset")
	assert.Equal(t, transport, classify(transport))
	assert.NotErrorIs(t, classify(&common.APIError{Code: -1003, Message: "Too many requests"}), exchange.ErrOrderRejected)
	assert.ErrorIs(t, classify(&common.APIError{Code: -4164, Message: "notional too small"}), exchange.ErrOrderRejected)
}

func TestNewOrderGatewayNeedsCredentials(t *testing.T) {
	_, err := NewOrderGateway(Config{})
	assert.Error(t, err)
}
