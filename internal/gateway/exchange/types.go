// Package exchange defines the order/execution gateway the engine places orders
// through. Implementations must be idempotent on OrderLinkID: a repeated request
// with the same link returns the original report instead of a second order.
package exchange

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/types"
)

// ErrOrderRejected marks a venue refusing an order. It is final: retrying the same
// request will not help.
var ErrOrderRejected = errors.New("order rejected by venue")

type OrderType string

const (
	OrderMarket     OrderType = "MARKET"
	OrderLimit      OrderType = "LIMIT"
	OrderStopMarket OrderType = "STOP_MARKET"
	OrderTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusCanceled        OrderStatus = "CANCELED"
)

// OrderRequest contains parameters for placing one order.
type OrderRequest struct {
	Symbol      string          // Internal symbol, e.g. "BTC/USDT"
	Side        types.Side      // BUY or SELL
	Type        OrderType       // MARKET when empty
	Quantity    decimal.Decimal // Base-asset quantity
	Price       decimal.Decimal // Limit price, or reference price for market orders
	StopPrice   decimal.Decimal // Trigger for stop / take-profit orders
	OrderLinkID string          // Caller idempotency token, sent as client order id
	ReduceOnly  bool            // Only reduce an existing position
}

// ExecutionReport is the venue's answer to an order.
type ExecutionReport struct {
	OrderID     string          `json:"order_id"`
	OrderLinkID string          `json:"order_link_id"`
	Symbol      string          `json:"symbol"`
	Side        types.Side      `json:"side"`
	Type        OrderType       `json:"type"`
	Status      OrderStatus     `json:"status"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Fee         decimal.Decimal `json:"fee"`
	Reason      string          `json:"reason,omitempty"`
	At          time.Time       `json:"at"`
}

// Filled reports whether any quantity executed.
func (r ExecutionReport) Filled() bool {
	return (r.Status == StatusFilled || r.Status == StatusPartiallyFilled) && r.FilledQty.IsPositive()
}

// Accepted reports whether the venue holds the order (filled or resting).
func (r ExecutionReport) Accepted() bool {
	return r.Status != StatusRejected && r.Status != StatusCanceled && r.OrderID != ""
}

// DerivedLinkID builds the link id of an order placed on behalf of another one,
// e.g. the stop-loss of an entry. The result keeps the parent's length.
func DerivedLinkID(parent, kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if i := strings.IndexByte(parent, '-'); i > 0 {
		return kind + parent[i:]
	}
	return kind + "-" + parent
}
