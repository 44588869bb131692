package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SignalModel maps to the 'signals' table. Prices are stored as decimal text.
type SignalModel struct {
	ID              string          `gorm:"column:id;primaryKey"`
	Symbol          string          `gorm:"column:symbol;index:idx_signal_symbol_status,priority:1"`
	Side            string          `gorm:"column:side"`
	EntryPrice      decimal.Decimal `gorm:"column:entry_price;type:text"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:text"`
	StopLoss        decimal.Decimal `gorm:"column:stop_loss;type:text"`
	TakeProfit      decimal.Decimal `gorm:"column:take_profit;type:text"`
	Confidence      float64         `gorm:"column:confidence"`
	Status          string          `gorm:"column:status;index:idx_signal_symbol_status,priority:2"`
	OrderLinkID     string          `gorm:"column:order_link_id;uniqueIndex"`
	Timeframe       string          `gorm:"column:timeframe"`
	Exchange        string          `gorm:"column:exchange"`
	MarketType      string          `gorm:"column:market_type"`
	Source          string          `gorm:"column:source"`
	Confirmation    string          `gorm:"column:confirmation"`
	Snapshot        datatypes.JSON  `gorm:"column:snapshot"`
	GeneratedAt     int64           `gorm:"column:generated_at;index"`
	ProcessedAt     int64           `gorm:"column:processed_at"`
	ProcessedBy     string          `gorm:"column:processed_by"`
	ExecutedAt      int64           `gorm:"column:executed_at"`
	OrderID         string          `gorm:"column:order_id"`
	RejectionReason string          `gorm:"column:rejection_reason"`
	FailureReason   string          `gorm:"column:failure_reason"`
}

func (SignalModel) TableName() string { return "signals" }

// PositionModel maps to the 'positions' table.
type PositionModel struct {
	ID                      string          `gorm:"column:id;primaryKey"`
	Symbol                  string          `gorm:"column:symbol;index:idx_position_symbol_status,priority:1"`
	Side                    string          `gorm:"column:side"`
	Status                  string          `gorm:"column:status;index:idx_position_symbol_status,priority:2"`
	Exchange                string          `gorm:"column:exchange"`
	MarketType              string          `gorm:"column:market_type"`
	EntryPrice              decimal.Decimal `gorm:"column:entry_price;type:text"`
	CurrentPrice            decimal.Decimal `gorm:"column:current_price;type:text"`
	Quantity                decimal.Decimal `gorm:"column:quantity;type:text"`
	InitialQuantity         decimal.Decimal `gorm:"column:initial_quantity;type:text"`
	StopLossPrice           decimal.Decimal `gorm:"column:stop_loss_price;type:text"`
	TakeProfitPrice         decimal.Decimal `gorm:"column:take_profit_price;type:text"`
	TrailingStopPrice       decimal.Decimal `gorm:"column:trailing_stop_price;type:text"`
	TrailingStopInitialized bool            `gorm:"column:trailing_stop_initialized"`
	SLTPApplied             bool            `gorm:"column:sltp_applied"`
	OriginalSignalID        string          `gorm:"column:original_signal_id;index"`
	OrderLinkID             string          `gorm:"column:order_link_id;uniqueIndex"`
	SignalSource            string          `gorm:"column:signal_source"`
	LastSLTPCheck           int64           `gorm:"column:last_sltp_check"`
	HighestPrice            decimal.Decimal `gorm:"column:highest_price;type:text"`
	LowestPrice             decimal.Decimal `gorm:"column:lowest_price;type:text"`
	RealizedPnL             decimal.Decimal `gorm:"column:realized_pnl;type:text"`
	UnrealizedPnL           decimal.Decimal `gorm:"column:unrealized_pnl;type:text"`
	Fees                    decimal.Decimal `gorm:"column:fees;type:text"`
	PartialCloses           int             `gorm:"column:partial_closes"`
	OpenTime                int64           `gorm:"column:open_time"`
	CloseTime               int64           `gorm:"column:close_time"`
	ExitReason              string          `gorm:"column:exit_reason"`
	ReviewReason            string          `gorm:"column:review_reason"`
	LastUpdated             int64           `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }
