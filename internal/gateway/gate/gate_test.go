package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/market"
)

var frozen = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newTestSource(t *testing.T, mux *http.ServeMux) *Source {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	src, err := New(Config{RESTBaseURL: srv.URL, Now: func() time.Time { return frozen }})
	require.NoError(t, err)
	return src
}

func TestFetchCandlesDropsFormingBar(t *testing.T) {
	mux := http.NewServeMux()
	var gotContract, gotInterval string
	mux.HandleFunc("/futures/usdt/candlesticks", func(w http.ResponseWriter, r *http.Request) {
		gotContract = r.URL.Query().Get("contract")
		gotInterval = r.URL.Query().Get("interval")
		base := frozen.Truncate(time.Hour).Add(-2 * time.Hour)
		rows := make([]string, 0, 3)
		for i, c := range []string{"100", "101", "102"} {
			ts := base.Add(time.Duration(i) * time.Hour).Unix()
			rows = append(rows, fmt.Sprintf(`{"t":%d,"o":"%s","h":"%s","l":"%s","c":"%s","sum":"7.5"}`, ts, c, c, c, c))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	})
	src := newTestSource(t, mux)

	candles, err := src.FetchCandles(context.Background(), "btcusdt", market.TF1h, 10)
	require.NoError(t, err)
	assert.Equal(t, "BTC_USDT", gotContract)
	assert.Equal(t, "1h", gotInterval)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.0, candles[1].Close)
	assert.Equal(t, 7.5, candles[0].Volume)
	assert.Equal(t, candles[0].OpenTime+time.Hour.Milliseconds()-1, candles[0].CloseTime)
}

func TestFetchCandlesUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/futures/usdt/candlesticks", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"label":"INVALID_PARAM_VALUE","message":"contract not found"}`)
	})
	src := newTestSource(t, mux)

	_, err := src.FetchCandles(context.Background(), "FOO/USDT", market.TF1h, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrDataUnavailable))
}

func TestFetchCandlesRejectsBadTimeframe(t *testing.T) {
	src := newTestSource(t, http.NewServeMux())
	_, err := src.FetchCandles(context.Background(), "BTC/USDT", market.Timeframe("soon"), 10)
	assert.True(t, errors.Is(err, market.ErrDataUnavailable))
}

func TestInvalidProxyURL(t *testing.T) {
	_, err := New(Config{ProxyEnabled: true, RESTProxyURL: "://bad"})
	assert.Error(t, err)
}
