package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/types"
)

func TestMarketFillIsIdempotent(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := New(Config{FeeRate: decimal.RequireFromString("0.001"), Now: func() time.Time { return at }})
	req := exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(100), OrderLinkID: "te-1"}

	first, err := g.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Filled())
	assert.Equal(t, "0.2", first.Fee.String())
	assert.Equal(t, at, first.At)

	second, err := g.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, g.Orders())

	got, found, err := g.QueryOrder(context.Background(), "BTC/USDT", "te-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first.OrderID, got.OrderID)
}

func TestSlippageAgainstTaker(t *testing.T) {
	g := New(Config{Slippage: decimal.RequireFromString("0.01")})
	buy, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{Symbol: "X", Side: types.SideBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), OrderLinkID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "101", buy.AvgPrice.String())
	sell, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{Symbol: "X", Side: types.SideSell, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), OrderLinkID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "99", sell.AvgPrice.String())
}

func TestProtectiveOrderRests(t *testing.T) {
	g := New(Config{})
	rep, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "X", Side: types.SideSell, Type: exchange.OrderStopMarket, Quantity: decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(90), OrderLinkID: "sl-1", ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusNew, rep.Status)
	assert.True(t, rep.Accepted())
	assert.False(t, rep.Filled())
}

func TestRejections(t *testing.T) {
	g := New(Config{})
	g.Reject = func(req exchange.OrderRequest) string {
		if req.Symbol == "DOGE/USDT" {
			return "symbol halted"
		}
		return ""
	}
	_, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{Symbol: "DOGE/USDT", Side: types.SideBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), OrderLinkID: "x"})
	require.ErrorIs(t, err, exchange.ErrOrderRejected)
	assert.Contains(t, err.Error(), "symbol halted")

	_, err = g.PlaceOrder(context.Background(), exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Quantity: decimal.NewFromInt(1), OrderLinkID: "y"})
	assert.ErrorIs(t, err, exchange.ErrOrderRejected)
	assert.Zero(t, g.Orders())
}
