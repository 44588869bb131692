package signal

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/broadcast"
	"tradeengine/internal/market"
	"tradeengine/internal/store/journal"
	"tradeengine/internal/types"
)

type memStore struct {
	mu      sync.Mutex
	signals map[string]*Signal
	failOn  string
}

func newMemStore() *memStore { return &memStore{signals: map[string]*Signal{}} }

func (s *memStore) CreateSignal(_ context.Context, sig *Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = sig.Clone()
	return nil
}

func (s *memStore) GetSignal(_ context.Context, id string) (*Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sig.Clone(), nil
}

func (s *memStore) GetSignalByOrderLinkID(_ context.Context, link string) (*Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range s.signals {
		if sig.OrderLinkID == link {
			return sig.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListSignals(_ context.Context, symbol string, statuses ...Status) ([]*Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Signal
	for _, sig := range s.signals {
		if symbol != "" && sig.Symbol != symbol {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, sig.Status) {
			continue
		}
		out = append(out, sig.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	return out, nil
}

func (s *memStore) UpdateSignal(_ context.Context, sig *Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == sig.Status.String() {
		return errors.New("disk full")
	}
	s.signals[sig.ID] = sig.Clone()
	return nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type recorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *recorder) Append(_ context.Context, e journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func candidate() Candidate {
	return Candidate{
		Symbol:     "BTC/USDT",
		Side:       types.SideBuy,
		EntryPrice: decimal.RequireFromString("65000.5"),
		Quantity:   decimal.RequireFromString("0.01"),
		StopLoss:   decimal.RequireFromString("64000"),
		TakeProfit: decimal.RequireFromString("68000"),
		Confidence: 0.7,
		Timeframe:  market.TF1h,
		Venue:      market.Venue{Exchange: "Binance", MarketType: market.MarketFutures},
		Source:     SourceConfluence,
	}
}

func newTestManager(t *testing.T) (*Manager, *memStore, *clock, *broadcast.Hub, *recorder) {
	t.Helper()
	st := newMemStore()
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	hub := broadcast.NewHub()
	rec := &recorder{}
	m := NewManager(st, Options{TTL: 10 * time.Minute, Publisher: hub, Journal: rec, Now: clk.now})
	return m, st, clk, hub, rec
}

func TestCreateAssignsLinkAndPending(t *testing.T) {
	m, _, clk, hub, rec := newTestManager(t)
	events, cancel := hub.Subscribe(4, broadcast.TopicSignals)
	defer cancel()

	sig, err := m.Create(context.Background(), candidate())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sig.Status)
	assert.Len(t, sig.OrderLinkID, 35)
	assert.Equal(t, clk.t, sig.GeneratedAt)
	assert.Equal(t, "binance", sig.Exchange)
	assert.Equal(t, broadcast.SignalCreated, (<-events).Type)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "PENDING", rec.entries[0].To)
}

func TestCreateRejectsMissingFields(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	c := candidate()
	c.Symbol = ""
	c.EntryPrice = decimal.Zero
	_, err := m.Create(context.Background(), c)
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "symbol")
	assert.Contains(t, err.Error(), "entryPrice")

	c = candidate()
	c.Side = ""
	_, err = m.Create(context.Background(), c)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestOrderLinkIDsUnique(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		sig, err := m.Create(context.Background(), candidate())
		require.NoError(t, err)
		require.False(t, seen[sig.OrderLinkID])
		seen[sig.OrderLinkID] = true
	}
}

func TestApproveExecuteFlow(t *testing.T) {
	m, _, clk, _, rec := newTestManager(t)
	ctx := context.Background()
	sig, err := m.Create(ctx, candidate())
	require.NoError(t, err)

	clk.t = clk.t.Add(time.Minute)
	approved, err := m.Approve(ctx, sig.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "alice", approved.ProcessedBy)
	require.NotNil(t, approved.ProcessedAt)

	executed, err := m.Execute(ctx, sig.ID, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, executed.Status)
	assert.Equal(t, "ord-1", executed.OrderID)
	assert.Equal(t, sig.OrderLinkID, executed.OrderLinkID)

	again, err := m.Execute(ctx, sig.ID, "ord-2")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", again.OrderID)
	assert.Len(t, rec.entries, 3)
}

func TestNoSkippedTransitions(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	ctx := context.Background()
	sig, err := m.Create(ctx, candidate())
	require.NoError(t, err)

	_, err = m.Execute(ctx, sig.ID, "ord")
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, StatusPending, ise.From)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = m.Fail(ctx, sig.ID, "x")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = m.Reject(ctx, sig.ID, "bob", "")
	require.NoError(t, err)
	_, err = m.Approve(ctx, sig.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := m.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "rejected by bob", got.RejectionReason)
}

func TestFailRecordsReason(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	ctx := context.Background()
	sig, _ := m.Create(ctx, candidate())
	_, err := m.Approve(ctx, sig.ID, "policy")
	require.NoError(t, err)
	failed, err := m.Fail(ctx, sig.ID, "margin is insufficient")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "margin is insufficient", failed.FailureReason)
	assert.True(t, failed.Status.Terminal())
}

func TestUserConfirmationBranch(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Create(ctx, candidate())
	_, err := m.RequestConfirmation(ctx, a.ID, "low confidence")
	require.NoError(t, err)
	_, err = m.Approve(ctx, a.ID, "policy")
	assert.ErrorIs(t, err, ErrInvalidState)
	ok, err := m.Confirm(ctx, a.ID, "carol", true, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, ok.Status)

	b, _ := m.Create(ctx, candidate())
	_, err = m.RequestConfirmation(ctx, b.ID, "")
	require.NoError(t, err)
	no, err := m.Confirm(ctx, b.ID, "carol", false, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, no.Status)
	assert.Equal(t, "declined by carol", no.RejectionReason)

	_, err = m.Confirm(ctx, b.ID, "carol", true, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireStale(t *testing.T) {
	m, _, clk, _, _ := newTestManager(t)
	ctx := context.Background()
	old, _ := m.Create(ctx, candidate())
	parked, _ := m.Create(ctx, candidate())
	_, err := m.RequestConfirmation(ctx, parked.ID, "")
	require.NoError(t, err)
	approved, _ := m.Create(ctx, candidate())
	_, err = m.Approve(ctx, approved.ID, "policy")
	require.NoError(t, err)

	_, err = m.Expire(ctx, old.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	clk.t = clk.t.Add(11 * time.Minute)
	fresh, _ := m.Create(ctx, candidate())

	n, err := m.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]Status{
		old.ID: StatusExpired, parked.ID: StatusExpired, approved.ID: StatusApproved, fresh.ID: StatusPending,
	} {
		got, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}
	got, _ := m.Get(ctx, old.ID)
	assert.NotEmpty(t, got.RejectionReason)
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()
	sig, _ := m.Create(ctx, candidate())
	st.failOn = "APPROVED"
	_, err := m.Approve(ctx, sig.ID, "alice")
	require.Error(t, err)
	got, err := m.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.ProcessedAt)
}

func TestConcurrentApproveRejectSingleWinner(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	ctx := context.Background()
	sig, _ := m.Create(ctx, candidate())

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = m.Approve(ctx, sig.ID, "a")
			} else {
				_, err = m.Reject(ctx, sig.ID, "b", "no")
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestGetUnknown(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	_, err := m.Approve(context.Background(), "missing", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusHelpers(t *testing.T) {
	for s := StatusPending; s <= StatusFailed; s++ {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.False(t, CanTransition(StatusPending, StatusExecuted))
	assert.True(t, CanTransition(StatusApproved, StatusFailed))
	for _, term := range []Status{StatusExecuted, StatusRejected, StatusExpired, StatusFailed} {
		assert.Empty(t, transitions[term])
	}
}
