package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/market"
)

type Config struct {
	Symbols    []string
	Timeframes []market.Timeframe
	Venue      market.Venue

	ScanInterval    time.Duration
	MonitorInterval time.Duration
	// CallTimeout bounds each market-data and order call.
	CallTimeout time.Duration
	// Workers bounds how many symbols are scanned at once.
	Workers int

	// MinConfidence drops candidates whose final confidence is below it.
	MinConfidence float64
	// RequireUserConfirmation parks new signals in PENDING_USER_CONFIRMATION.
	RequireUserConfirmation bool
	// AutoApprove approves new signals directly; otherwise they wait for an operator.
	AutoApprove bool

	OrderNotional     decimal.Decimal
	QuantityPrecision int32
	StopLossPct       decimal.Decimal
	TakeProfitPct     decimal.Decimal

	BookDepth        int
	MomentumLookback int
}

func DefaultConfig() Config {
	return Config{
		Timeframes:        market.DefaultTimeframes,
		Venue:             market.Venue{Exchange: "binance", MarketType: market.MarketFutures},
		ScanInterval:      15 * time.Minute,
		MonitorInterval:   time.Minute,
		CallTimeout:       10 * time.Second,
		Workers:           4,
		MinConfidence:     0.3,
		AutoApprove:       true,
		OrderNotional:     decimal.NewFromInt(100),
		QuantityPrecision: 3,
		StopLossPct:       decimal.RequireFromString("0.02"),
		TakeProfitPct:     decimal.RequireFromString("0.04"),
		BookDepth:         50,
		MomentumLookback:  10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Timeframes) == 0 {
		c.Timeframes = def.Timeframes
	}
	if c.Venue.Exchange == "" {
		c.Venue = def.Venue
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = def.ScanInterval
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = def.MonitorInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if !c.OrderNotional.IsPositive() {
		c.OrderNotional = def.OrderNotional
	}
	// 0 is a valid precision (whole contracts); only a negative value is unset.
	if c.QuantityPrecision < 0 {
		c.QuantityPrecision = def.QuantityPrecision
	}
	if !c.StopLossPct.IsPositive() {
		c.StopLossPct = def.StopLossPct
	}
	if !c.TakeProfitPct.IsPositive() {
		c.TakeProfitPct = def.TakeProfitPct
	}
	if c.BookDepth <= 0 {
		c.BookDepth = def.BookDepth
	}
	if c.MomentumLookback <= 0 {
		c.MomentumLookback = def.MomentumLookback
	}
	return c
}
