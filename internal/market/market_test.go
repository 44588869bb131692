package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframeDuration(t *testing.T) {
	d, ok := TF4h.Duration()
	assert.True(t, ok)
	assert.Equal(t, 4*time.Hour, d)
	_, ok = Timeframe("x").Duration()
	assert.False(t, ok)
	_, ok = Timeframe("0m").Duration()
	assert.False(t, ok)
}

func TestParseTimeframes(t *testing.T) {
	tfs, err := ParseTimeframes([]string{"15M", "1h", "1h", "1d"})
	require.NoError(t, err)
	assert.Equal(t, []Timeframe{TF15m, TF1h, TF1d}, tfs)
	_, err = ParseTimeframes([]string{"soon"})
	assert.Error(t, err)
}

func TestOrderBookSorted(t *testing.T) {
	ob := OrderBook{
		Bids: []Level{{Price: 99, Size: 1}, {Price: 100, Size: 2}, {Price: 98, Size: 0}},
		Asks: []Level{{Price: 102, Size: 1}, {Price: 101, Size: 1}},
	}.Sorted()
	assert.Equal(t, 100.0, ob.Bids[0].Price)
	assert.Len(t, ob.Bids, 2)
	assert.Equal(t, 101.0, ob.Asks[0].Price)
	assert.Equal(t, 100.5, ob.Mid())
}

type nopSource struct{}

func (nopSource) FetchCandles(context.Context, string, Timeframe, int) (Candles, error) {
	return nil, nil
}
func (nopSource) FetchOrderBook(context.Context, string, int) (OrderBook, error) {
	return OrderBook{}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	v := Venue{Exchange: "Binance", MarketType: MarketFutures}
	reg.Register(v, nopSource{})
	src, err := reg.Source(Venue{Exchange: "binance", MarketType: MarketFutures})
	require.NoError(t, err)
	assert.NotNil(t, src)
	_, err = reg.Source(Venue{Exchange: "binance", MarketType: MarketSpot})
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestDropUnclosed(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cs := Candles{
		{OpenTime: base.UnixMilli(), Close: 1},
		{OpenTime: base.Add(time.Hour).UnixMilli(), Close: 2},
	}
	assert.Len(t, cs.DropUnclosed(time.Hour, base.Add(90*time.Minute)), 1)
	assert.Len(t, cs.DropUnclosed(time.Hour, base.Add(2*time.Hour)), 2)
	assert.Empty(t, Candles(nil).DropUnclosed(time.Hour, base))
}
