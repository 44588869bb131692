// Package position owns open positions: protective orders, price ticks, partial
// and full exits, and re-linking positions to their signals after a restart.
package position

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/market"
	"tradeengine/internal/pkg/trading"
	"tradeengine/internal/types"
)

var (
	ErrNotFound             = errors.New("position not found")
	ErrTerminal             = errors.New("position is closed")
	ErrOverClose            = errors.New("close quantity exceeds open quantity")
	ErrRestartInconsistency = errors.New("position has no resolvable originating signal")
)

type Status int

const (
	StatusOpen Status = iota + 1
	StatusPartiallyClosed
	StatusClosed
	StatusLiquidated
	// StatusManualReview parks a position whose origin could not be resolved.
	StatusManualReview
)

var statusNames = map[Status]string{
	StatusOpen:            "OPEN",
	StatusPartiallyClosed: "PARTIALLY_CLOSED",
	StatusClosed:          "CLOSED",
	StatusLiquidated:      "LIQUIDATED",
	StatusManualReview:    "MANUAL_REVIEW",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func ParseStatus(raw string) (Status, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for s, name := range statusNames {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown position status %q", raw)
}

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) Terminal() bool {
	switch s {
	case StatusClosed, StatusLiquidated:
		return true
	case StatusOpen, StatusPartiallyClosed, StatusManualReview:
		return false
	default:
		return false
	}
}

// Live reports whether the position is under automatic management.
func (s Status) Live() bool {
	return s == StatusOpen || s == StatusPartiallyClosed
}

// Exit reasons recorded on closes.
const (
	ExitStopLoss     = "STOP_LOSS"
	ExitTakeProfit   = "TAKE_PROFIT"
	ExitTrailingStop = "TRAILING_STOP"
	ExitRiskReduce   = "RISK_REDUCE"
	ExitManual       = "MANUAL"
	ExitLiquidation  = "LIQUIDATION"
)

// Position is an open or historical exposure. OriginalSignalID and OrderLinkID are
// fixed at creation and used to re-link after a restart.
type Position struct {
	ID                      string            `json:"id"`
	Symbol                  string            `json:"symbol"`
	Side                    types.Side        `json:"side"`
	Status                  Status            `json:"status"`
	Exchange                string            `json:"exchange,omitempty"`
	MarketType              market.MarketType `json:"market_type,omitempty"`
	EntryPrice              decimal.Decimal   `json:"entry_price"`
	CurrentPrice            decimal.Decimal   `json:"current_price"`
	Quantity                decimal.Decimal   `json:"quantity"`
	InitialQuantity         decimal.Decimal   `json:"initial_quantity"`
	StopLossPrice           decimal.Decimal   `json:"stop_loss_price"`
	TakeProfitPrice         decimal.Decimal   `json:"take_profit_price"`
	TrailingStopPrice       decimal.Decimal   `json:"trailing_stop_price"`
	TrailingStopInitialized bool              `json:"trailing_stop_initialized"`
	SLTPApplied             bool              `json:"sltp_applied"`
	OriginalSignalID        string            `json:"original_signal_id"`
	OrderLinkID             string            `json:"order_link_id"`
	SignalSource            string            `json:"signal_source,omitempty"`
	LastSLTPCheck           *time.Time        `json:"last_sltp_check,omitempty"`
	HighestPrice            decimal.Decimal   `json:"highest_price"`
	LowestPrice             decimal.Decimal   `json:"lowest_price"`
	RealizedPnL             decimal.Decimal   `json:"realized_pnl"`
	UnrealizedPnL           decimal.Decimal   `json:"unrealized_pnl"`
	Fees                    decimal.Decimal   `json:"fees"`
	PartialCloses           int               `json:"partial_closes"`
	OpenTime                time.Time         `json:"open_time"`
	CloseTime               *time.Time        `json:"close_time,omitempty"`
	ExitReason              string            `json:"exit_reason,omitempty"`
	ReviewReason            string            `json:"review_reason,omitempty"`
	UpdatedAt               time.Time         `json:"updated_at"`
}

// ClosedQuantity is InitialQuantity - Quantity.
func (p *Position) ClosedQuantity() decimal.Decimal {
	return p.InitialQuantity.Sub(p.Quantity)
}

// PercentageClosed is the closed share of the initial quantity, 0..100.
func (p *Position) PercentageClosed() decimal.Decimal {
	if !p.InitialQuantity.IsPositive() {
		return decimal.Zero
	}
	return p.ClosedQuantity().Div(p.InitialQuantity).Mul(decimal.NewFromInt(100))
}

func (p *Position) IsLong() bool { return p.Side.IsLong() }

// PnLAt is the P&L of the open quantity at price.
func (p *Position) PnLAt(price decimal.Decimal) decimal.Decimal {
	return trading.PnL(p.IsLong(), p.EntryPrice, price, p.Quantity)
}

// BreakevenWithFees is the price at which a round trip pays its fees.
func (p *Position) BreakevenWithFees(feeRate decimal.Decimal) decimal.Decimal {
	round := feeRate.Mul(decimal.NewFromInt(2))
	if p.IsLong() {
		return p.EntryPrice.Mul(decimal.NewFromInt(1).Add(round))
	}
	return p.EntryPrice.Mul(decimal.NewFromInt(1).Sub(round))
}

func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	if p.LastSLTPCheck != nil {
		t := *p.LastSLTPCheck
		c.LastSLTPCheck = &t
	}
	if p.CloseTime != nil {
		t := *p.CloseTime
		c.CloseTime = &t
	}
	return &c
}
