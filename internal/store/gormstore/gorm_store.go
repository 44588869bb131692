package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradeengine/internal/market"
	"tradeengine/internal/position"
	"tradeengine/internal/signal"
	storemodel "tradeengine/internal/store/model"
	"tradeengine/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type signalModel = storemodel.SignalModel
type positionModel = storemodel.PositionModel

// GormStore persists signals and positions using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var (
	_ signal.Store   = (*GormStore)(nil)
	_ position.Store = (*GormStore)(nil)
)

// NewGormStore opens (or creates) the database at path and migrates its schema.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&signalModel{}, &positionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism for the HTTP API, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying handle for health checks.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	return s.db.DB()
}

// Ping reports whether the database is reachable.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.SQLDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --------------------------- Signals ------------------------------------

func (s *GormStore) CreateSignal(ctx context.Context, sig *signal.Signal) error {
	if sig == nil {
		return fmt.Errorf("signal is nil")
	}
	m := signalToModel(sig)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create signal %s: %w", sig.ID, err)
	}
	return nil
}

func (s *GormStore) GetSignal(ctx context.Context, id string) (*signal.Signal, error) {
	var m signalModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, signal.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return signalFromModel(m)
}

func (s *GormStore) GetSignalByOrderLinkID(ctx context.Context, orderLinkID string) (*signal.Signal, error) {
	var m signalModel
	err := s.db.WithContext(ctx).Where("order_link_id = ?", orderLinkID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, signal.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return signalFromModel(m)
}

func (s *GormStore) ListSignals(ctx context.Context, symbol string, statuses ...signal.Status) ([]*signal.Signal, error) {
	q := s.db.WithContext(ctx).Model(&signalModel{})
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, st := range statuses {
			names = append(names, st.String())
		}
		q = q.Where("status IN ?", names)
	}
	var rows []signalModel
	if err := q.Order("generated_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*signal.Signal, 0, len(rows))
	for _, m := range rows {
		sig, err := signalFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func (s *GormStore) UpdateSignal(ctx context.Context, sig *signal.Signal) error {
	if sig == nil {
		return fmt.Errorf("signal is nil")
	}
	m := signalToModel(sig)
	res := s.db.WithContext(ctx).Model(&signalModel{}).Where("id = ?", m.ID).Select("*").Updates(&m)
	if res.Error != nil {
		return fmt.Errorf("update signal %s: %w", sig.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return signal.ErrNotFound
	}
	return nil
}

// --------------------------- Positions ------------------------------------

func (s *GormStore) CreatePosition(ctx context.Context, p *position.Position) error {
	if p == nil {
		return fmt.Errorf("position is nil")
	}
	m := positionToModel(p)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create position %s: %w", p.ID, err)
	}
	return nil
}

func (s *GormStore) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	var m positionModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, position.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return positionFromModel(m)
}

func (s *GormStore) GetPositionByOrderLinkID(ctx context.Context, orderLinkID string) (*position.Position, error) {
	var m positionModel
	err := s.db.WithContext(ctx).Where("order_link_id = ?", orderLinkID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, position.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return positionFromModel(m)
}

func (s *GormStore) ListPositions(ctx context.Context, symbol string, statuses ...position.Status) ([]*position.Position, error) {
	q := s.db.WithContext(ctx).Model(&positionModel{})
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, st := range statuses {
			names = append(names, st.String())
		}
		q = q.Where("status IN ?", names)
	}
	var rows []positionModel
	if err := q.Order("open_time DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*position.Position, 0, len(rows))
	for _, m := range rows {
		p, err := positionFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *GormStore) UpdatePosition(ctx context.Context, p *position.Position) error {
	if p == nil {
		return fmt.Errorf("position is nil")
	}
	m := positionToModel(p)
	res := s.db.WithContext(ctx).Model(&positionModel{}).Where("id = ?", m.ID).Select("*").Updates(&m)
	if res.Error != nil {
		return fmt.Errorf("update position %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return position.ErrNotFound
	}
	return nil
}

// --------------------------- Mapping ------------------------------------

func signalToModel(sig *signal.Signal) signalModel {
	return signalModel{
		ID:              sig.ID,
		Symbol:          sig.Symbol,
		Side:            string(sig.Side),
		EntryPrice:      sig.EntryPrice,
		Quantity:        sig.Quantity,
		StopLoss:        sig.StopLoss,
		TakeProfit:      sig.TakeProfit,
		Confidence:      sig.Confidence,
		Status:          sig.Status.String(),
		OrderLinkID:     sig.OrderLinkID,
		Timeframe:       string(sig.Timeframe),
		Exchange:        sig.Exchange,
		MarketType:      marketTypeString(sig.MarketType),
		Source:          sig.Source,
		Confirmation:    sig.Confirmation,
		Snapshot:        datatypes.JSON(mustJSONBytes(string(sig.Snapshot))),
		GeneratedAt:     sig.GeneratedAt.UnixMilli(),
		ProcessedAt:     timeToMillis(sig.ProcessedAt),
		ProcessedBy:     sig.ProcessedBy,
		ExecutedAt:      timeToMillis(sig.ExecutedAt),
		OrderID:         sig.OrderID,
		RejectionReason: sig.RejectionReason,
		FailureReason:   sig.FailureReason,
	}
}

func signalFromModel(m signalModel) (*signal.Signal, error) {
	status, err := signal.ParseStatus(m.Status)
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", m.ID, err)
	}
	sig := &signal.Signal{
		ID:              m.ID,
		Symbol:          m.Symbol,
		Side:            types.Side(m.Side),
		EntryPrice:      m.EntryPrice,
		Quantity:        m.Quantity,
		StopLoss:        m.StopLoss,
		TakeProfit:      m.TakeProfit,
		Confidence:      m.Confidence,
		Status:          status,
		OrderLinkID:     m.OrderLinkID,
		Timeframe:       market.Timeframe(m.Timeframe),
		Exchange:        m.Exchange,
		MarketType:      parseMarketType(m.MarketType),
		Source:          m.Source,
		Confirmation:    m.Confirmation,
		GeneratedAt:     millisToTime(m.GeneratedAt),
		ProcessedAt:     millisToPtr(m.ProcessedAt),
		ProcessedBy:     m.ProcessedBy,
		ExecutedAt:      millisToPtr(m.ExecutedAt),
		OrderID:         m.OrderID,
		RejectionReason: m.RejectionReason,
		FailureReason:   m.FailureReason,
	}
	if raw := jsonBytesToString(m.Snapshot); raw != "{}" {
		sig.Snapshot = []byte(raw)
	}
	return sig, nil
}

func positionToModel(p *position.Position) positionModel {
	return positionModel{
		ID:                      p.ID,
		Symbol:                  p.Symbol,
		Side:                    string(p.Side),
		Status:                  p.Status.String(),
		Exchange:                p.Exchange,
		MarketType:              marketTypeString(p.MarketType),
		EntryPrice:              p.EntryPrice,
		CurrentPrice:            p.CurrentPrice,
		Quantity:                p.Quantity,
		InitialQuantity:         p.InitialQuantity,
		StopLossPrice:           p.StopLossPrice,
		TakeProfitPrice:         p.TakeProfitPrice,
		TrailingStopPrice:       p.TrailingStopPrice,
		TrailingStopInitialized: p.TrailingStopInitialized,
		SLTPApplied:             p.SLTPApplied,
		OriginalSignalID:        p.OriginalSignalID,
		OrderLinkID:             p.OrderLinkID,
		SignalSource:            p.SignalSource,
		LastSLTPCheck:           timeToMillis(p.LastSLTPCheck),
		HighestPrice:            p.HighestPrice,
		LowestPrice:             p.LowestPrice,
		RealizedPnL:             p.RealizedPnL,
		UnrealizedPnL:           p.UnrealizedPnL,
		Fees:                    p.Fees,
		PartialCloses:           p.PartialCloses,
		OpenTime:                p.OpenTime.UnixMilli(),
		CloseTime:               timeToMillis(p.CloseTime),
		ExitReason:              p.ExitReason,
		ReviewReason:            p.ReviewReason,
		LastUpdated:             p.UpdatedAt.UnixMilli(),
	}
}

func positionFromModel(m positionModel) (*position.Position, error) {
	status, err := position.ParseStatus(m.Status)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", m.ID, err)
	}
	return &position.Position{
		ID:                      m.ID,
		Symbol:                  m.Symbol,
		Side:                    types.Side(m.Side),
		Status:                  status,
		Exchange:                m.Exchange,
		MarketType:              parseMarketType(m.MarketType),
		EntryPrice:              m.EntryPrice,
		CurrentPrice:            m.CurrentPrice,
		Quantity:                m.Quantity,
		InitialQuantity:         m.InitialQuantity,
		StopLossPrice:           m.StopLossPrice,
		TakeProfitPrice:         m.TakeProfitPrice,
		TrailingStopPrice:       m.TrailingStopPrice,
		TrailingStopInitialized: m.TrailingStopInitialized,
		SLTPApplied:             m.SLTPApplied,
		OriginalSignalID:        m.OriginalSignalID,
		OrderLinkID:             m.OrderLinkID,
		SignalSource:            m.SignalSource,
		LastSLTPCheck:           millisToPtr(m.LastSLTPCheck),
		HighestPrice:            m.HighestPrice,
		LowestPrice:             m.LowestPrice,
		RealizedPnL:             m.RealizedPnL,
		UnrealizedPnL:           m.UnrealizedPnL,
		Fees:                    m.Fees,
		PartialCloses:           m.PartialCloses,
		OpenTime:                millisToTime(m.OpenTime),
		CloseTime:               millisToPtr(m.CloseTime),
		ExitReason:              m.ExitReason,
		ReviewReason:            m.ReviewReason,
		UpdatedAt:               millisToTime(m.LastUpdated),
	}, nil
}

// --------------------------- Helper Functions ------------------------------------

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func marketTypeString(mt market.MarketType) string {
	if mt == 0 {
		return ""
	}
	return mt.String()
}

func parseMarketType(raw string) market.MarketType {
	mt, err := market.ParseMarketType(raw)
	if err != nil {
		return 0
	}
	return mt
}

func mustJSONBytes(raw string) []byte {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []byte("{}")
	}
	return []byte(raw)
}

func jsonBytesToString(data datatypes.JSON) string {
	if len(data) == 0 {
		return "{}"
	}
	return string(data)
}

func timeToMillis(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func millisToPtr(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.UnixMilli(v).UTC()
	return &t
}
