package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/analysis/timeframe"
	"tradeengine/internal/confluence"
	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/gateway/paper"
	"tradeengine/internal/gateway/provider"
	"tradeengine/internal/market"
	"tradeengine/internal/position"
	"tradeengine/internal/scheduler"
	"tradeengine/internal/signal"
	"tradeengine/internal/store/gormstore"
	"tradeengine/internal/types"
)

var venue = market.Venue{Exchange: "paper", MarketType: market.MarketFutures}

type fakeAnalyzer struct {
	verdicts map[market.Timeframe]*timeframe.Verdict
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string, tf market.Timeframe, _ market.Venue) *timeframe.Verdict {
	v, ok := f.verdicts[tf]
	if !ok {
		return nil
	}
	out := *v
	return &out
}

func tfVerdict(tf market.Timeframe, d types.Direction, conf float64) *timeframe.Verdict {
	return &timeframe.Verdict{Timeframe: tf, Direction: d, Confidence: conf, LastClose: 100}
}

type fakeSource struct {
	mu   sync.Mutex
	bid  float64
	ask  float64
	fail bool
}

func (s *fakeSource) setMid(mid float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bid, s.ask = mid-0.5, mid+0.5
}

func (s *fakeSource) FetchCandles(context.Context, string, market.Timeframe, int) (market.Candles, error) {
	out := make(market.Candles, 11)
	for i := range out {
		out[i] = market.Candle{OpenTime: int64(i) * 60_000, Close: 100}
	}
	return out, nil
}

func (s *fakeSource) FetchOrderBook(_ context.Context, sym string, _ int) (market.OrderBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return market.OrderBook{}, market.ErrDataUnavailable
	}
	book := market.OrderBook{Symbol: sym}
	for i := 0; i < 5; i++ {
		book.Bids = append(book.Bids, market.Level{Price: s.bid - float64(i), Size: 1})
		book.Asks = append(book.Asks, market.Level{Price: s.ask + float64(i), Size: 1})
	}
	return book, nil
}

type health struct{ err error }

func (h *health) Ping(context.Context) error { return h.err }

type booster struct {
	boost provider.Boost
	err   error
}

func (b *booster) Boost(context.Context, provider.BoostRequest) (provider.Boost, error) {
	return b.boost, b.err
}

type harness struct {
	engine   *Engine
	store    *gormstore.GormStore
	signals  *signal.Manager
	recon    *position.Reconciler
	gateway  *paper.Gateway
	source   *fakeSource
	analyzer *fakeAnalyzer
	health   *health
}

// newHarness builds an engine over a temp store. wrap, when given, sits between
// the signal manager and the store.
func newHarness(t *testing.T, mutate func(*Config, *Deps), wrap ...func(*gormstore.GormStore) signal.Store) *harness {
	t.Helper()
	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:   st,
		gateway: paper.New(paper.Config{}),
		source:  &fakeSource{},
		analyzer: &fakeAnalyzer{verdicts: map[market.Timeframe]*timeframe.Verdict{
			market.TF15m: tfVerdict(market.TF15m, types.Buy, 0.8),
			market.TF1h:  tfVerdict(market.TF1h, types.Buy, 0.7),
			market.TF4h:  tfVerdict(market.TF4h, types.Buy, 0.6),
			market.TF1d:  tfVerdict(market.TF1d, types.Buy, 0.9),
		}},
		health: &health{},
	}
	h.source.setMid(100)
	reg := market.NewRegistry()
	reg.Register(venue, h.source)
	var signalStore signal.Store = st
	for _, w := range wrap {
		signalStore = w(st)
	}
	h.signals = signal.NewManager(signalStore, signal.Options{TTL: time.Hour})
	h.recon = position.NewReconciler(st, st, h.gateway, position.Options{Config: position.DefaultConfig()})

	cfg := Config{
		Symbols:           []string{"BTC/USDT"},
		Timeframes:        market.DefaultTimeframes,
		Venue:             venue,
		AutoApprove:       true,
		MinConfidence:     0.3,
		OrderNotional:     decimal.NewFromInt(100),
		QuantityPrecision: 3,
	}
	deps := Deps{
		Scorer:    confluence.NewScorer(h.analyzer, confluence.Config{Timeout: time.Second}),
		Signals:   h.signals,
		Positions: h.recon,
		Market:    reg,
		Gateway:   h.gateway,
		Health:    h.health,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	h.engine, err = New(cfg, deps)
	require.NoError(t, err)
	return h
}

func TestScanCreatesApprovedSignal(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	sig := out[0].Signal
	require.NotNil(t, sig, out[0].Skip)

	assert.Equal(t, signal.StatusApproved, sig.Status)
	assert.Equal(t, types.SideBuy, sig.Side)
	assert.Equal(t, "engine", sig.ProcessedBy)
	assert.InDelta(t, 0.745, sig.Confidence, 1e-9)
	assert.True(t, sig.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, sig.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, sig.StopLoss.Equal(decimal.NewFromInt(98)))
	assert.True(t, sig.TakeProfit.Equal(decimal.NewFromInt(104)))
	assert.Equal(t, market.TF15m, sig.Timeframe)
	assert.Equal(t, "STRONG_CONFIRMATION", sig.Confirmation)

	var snap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(sig.Snapshot, &snap))
	assert.Contains(t, snap, "confluence")
	assert.Contains(t, snap, "confirmation")
}

func TestScanBlockedByHigherTimeframeContradiction(t *testing.T) {
	h := newHarness(t, nil)
	h.analyzer.verdicts[market.TF1d] = tfVerdict(market.TF1d, types.Sell, 0.9)

	out, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Signal)
	assert.Contains(t, out[0].Skip, "CONTRADICTION")

	sigs, err := h.signals.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestScanWithoutConfluence(t *testing.T) {
	h := newHarness(t, nil)
	h.analyzer.verdicts[market.TF4h] = tfVerdict(market.TF4h, types.DirNeutral, 0.5)
	h.analyzer.verdicts[market.TF1d] = tfVerdict(market.TF1d, types.Sell, 0.6)

	out, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out[0].Signal)
	assert.Contains(t, out[0].Skip, "no confluence")
}

func TestScanSkipsSymbolWithLiveSignal(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	out, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out[0].Signal)
	assert.Equal(t, "live signal or position", out[0].Skip)
}

func TestScanRequiresUserConfirmation(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.RequireUserConfirmation = true })
	out, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out[0].Signal)
	assert.Equal(t, signal.StatusPendingUserConfirmation, out[0].Signal.Status)
}

func TestScanAppliesBoundedBoost(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Booster = &booster{boost: provider.Boost{Value: 0.1, Reason: "volume", Model: "m"}}
	})
	out, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out[0].Signal)
	assert.InDelta(t, 0.845, out[0].Signal.Confidence, 1e-9)
}

func TestScanIgnoresBoostFailure(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Booster = &booster{err: errors.New("provider down")}
	})
	out, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out[0].Signal)
	assert.InDelta(t, 0.745, out[0].Signal.Confidence, 1e-9)
}

func TestExecuteTwiceOpensOnePosition(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	out, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	sig := out[0].Signal
	require.NotNil(t, sig)

	first, err := h.engine.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	second, err := h.engine.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, sig.OrderLinkID, first.OrderLinkID)
	assert.True(t, first.SLTPApplied)

	all, err := h.recon.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	// entry + stop-loss + take-profit
	assert.Equal(t, 3, h.gateway.Orders())

	stored, err := h.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusExecuted, stored.Status)
	assert.NotEmpty(t, stored.OrderID)
}

// flakyStore fails the next failExecuted APPROVED -> EXECUTED writes.
type flakyStore struct {
	*gormstore.GormStore
	mu           sync.Mutex
	failExecuted int
}

func (f *flakyStore) UpdateSignal(ctx context.Context, s *signal.Signal) error {
	f.mu.Lock()
	if s.Status == signal.StatusExecuted && f.failExecuted > 0 {
		f.failExecuted--
		f.mu.Unlock()
		return errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.GormStore.UpdateSignal(ctx, s)
}

type memGuard struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
}

func (g *memGuard) Acquire(_ context.Context, link string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		g.held = map[string]bool{}
	}
	if g.held[link] {
		return false, nil
	}
	g.held[link] = true
	g.acquired++
	return true, nil
}

func (g *memGuard) Release(_ context.Context, link string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, link)
	return nil
}

func (g *memGuard) isHeld(link string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[link]
}

func TestFailedBookkeepingAfterFillRecoversWithoutSecondOrder(t *testing.T) {
	flaky := &flakyStore{failExecuted: 1}
	guard := &memGuard{}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Guard = guard }, func(st *gormstore.GormStore) signal.Store {
		flaky.GormStore = st
		return flaky
	})
	ctx := context.Background()
	out, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	sig := out[0].Signal
	require.NotNil(t, sig)

	_, err = h.engine.ExecuteSignal(ctx, sig.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.False(t, guard.isHeld(sig.OrderLinkID), "guard must be released after a post-fill failure")
	assert.Equal(t, 1, h.gateway.Orders())

	stored, err := h.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusApproved, stored.Status)
	none, err := h.recon.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)

	// next monitor cycle
	require.NoError(t, h.engine.ExecuteApproved(ctx))

	all, err := h.recon.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, sig.OrderLinkID, all[0].OrderLinkID)
	// one entry, then stop-loss + take-profit on the recovered position
	assert.Equal(t, 3, h.gateway.Orders())
	assert.Equal(t, 2, guard.acquired)

	stored, err = h.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusExecuted, stored.Status)
	assert.Equal(t, "paper-1", stored.OrderID)
}

func TestExecuteUsesVenueRecordForKnownLink(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	out, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	sig := out[0].Signal

	// an earlier attempt reached the venue but its response was lost
	placed, err := h.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Type:        exchange.OrderMarket,
		Quantity:    sig.Quantity,
		Price:       sig.EntryPrice,
		OrderLinkID: sig.OrderLinkID,
	})
	require.NoError(t, err)

	p, err := h.engine.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, sig.OrderLinkID, p.OrderLinkID)
	assert.Equal(t, 3, h.gateway.Orders())

	stored, err := h.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, placed.OrderID, stored.OrderID)
}

func TestExecuteReleasesGuardOnSuccess(t *testing.T) {
	guard := &memGuard{}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Guard = guard })
	ctx := context.Background()
	out, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	sig := out[0].Signal

	_, err = h.engine.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.False(t, guard.isHeld(sig.OrderLinkID))
}

func TestExecutedSignalWithoutPositionReopensFromVenue(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	out, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	sig := out[0].Signal

	rep, err := h.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: sig.Symbol, Side: sig.Side, Type: exchange.OrderMarket,
		Quantity: sig.Quantity, Price: sig.EntryPrice, OrderLinkID: sig.OrderLinkID,
	})
	require.NoError(t, err)
	_, err = h.signals.Execute(ctx, sig.ID, rep.OrderID)
	require.NoError(t, err)

	p, err := h.engine.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, sig.OrderLinkID, p.OrderLinkID)
	assert.Equal(t, sig.ID, p.OriginalSignalID)
}

func TestExecuteRejectedMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.gateway.Reject = func(req exchange.OrderRequest) string {
		if req.ReduceOnly {
			return ""
		}
		return "insufficient margin"
	}
	ctx := context.Background()
	out, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	sig := out[0].Signal

	_, err = h.engine.ExecuteSignal(ctx, sig.ID)
	require.ErrorIs(t, err, exchange.ErrOrderRejected)

	stored, err := h.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusFailed, stored.Status)
	assert.Equal(t, "insufficient margin", stored.FailureReason)
	all, err := h.recon.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecuteRequiresApproved(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.AutoApprove = false })
	ctx := context.Background()
	out, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	sig := out[0].Signal
	require.Equal(t, signal.StatusPending, sig.Status)

	_, err = h.engine.ExecuteSignal(ctx, sig.ID)
	assert.ErrorIs(t, err, signal.ErrInvalidState)
}

func TestMonitorCycleExecutesAndTracks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.engine.Scan(ctx)
	require.NoError(t, err)

	h.source.setMid(100.5)
	require.NoError(t, h.engine.MonitorCycle(ctx))

	live, err := h.recon.List(ctx, "BTC/USDT", position.StatusOpen)
	require.NoError(t, err)
	require.Len(t, live, 1)
	p := live[0]
	assert.True(t, p.SLTPApplied)
	assert.True(t, p.CurrentPrice.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, p.UnrealizedPnL.Equal(decimal.RequireFromString("0.5")))
}

func TestMonitorCycleClosesOnTarget(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	require.NoError(t, h.engine.MonitorCycle(ctx))

	h.source.setMid(105)
	require.NoError(t, h.engine.MonitorCycle(ctx))

	all, err := h.recon.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, position.StatusClosed, all[0].Status)
	assert.Equal(t, position.ExitTakeProfit, all[0].ExitReason)
	assert.True(t, all[0].RealizedPnL.Equal(decimal.NewFromInt(5)))
}

func TestMonitorSkipsUnavailableBook(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	h.source.fail = true
	require.NoError(t, h.engine.MonitorCycle(ctx))
}

func TestPersistenceOutageIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.health.err = errors.New("database is locked")
	_, err := h.engine.Scan(context.Background())
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, scheduler.ErrFatal)
	assert.ErrorIs(t, h.engine.MonitorCycle(context.Background()), scheduler.ErrFatal)
}

func TestRunStopsOnFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.health.err = errors.New("disk gone")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.engine.Run(ctx)
	assert.ErrorIs(t, err, scheduler.ErrFatal)
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}
