package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/pkg/circuit"
	"tradeengine/internal/types"
)

type mockGateway struct{ mock.Mock }

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) PlaceOrder(ctx context.Context, req OrderRequest) (ExecutionReport, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ExecutionReport), args.Error(1)
}

func (m *mockGateway) QueryOrder(ctx context.Context, symbol, link string) (ExecutionReport, bool, error) {
	args := m.Called(ctx, symbol, link)
	return args.Get(0).(ExecutionReport), args.Bool(1), args.Error(2)
}

var fastPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func order() OrderRequest {
	return OrderRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Quantity: decimal.NewFromInt(1), OrderLinkID: "te-abc"}
}

func TestResilientRetriesTransientWithSameLink(t *testing.T) {
	g := &mockGateway{}
	req := order()
	g.On("PlaceOrder", mock.Anything, req).Return(ExecutionReport{}, errors.New("timeout")).Once()
	g.On("QueryOrder", mock.Anything, "BTC/USDT", "te-abc").Return(ExecutionReport{}, false, nil).Once()
	g.On("PlaceOrder", mock.Anything, req).Return(ExecutionReport{OrderID: "1", Status: StatusFilled}, nil).Once()

	rep, err := NewResilient(g, fastPolicy, nil).PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "1", rep.OrderID)
	g.AssertNumberOfCalls(t, "PlaceOrder", 2)
	g.AssertNumberOfCalls(t, "QueryOrder", 1)
}

func TestResilientReturnsKnownOrderInsteadOfResending(t *testing.T) {
	g := &mockGateway{}
	req := order()
	g.On("PlaceOrder", mock.Anything, req).Return(ExecutionReport{}, errors.New("-1007 execution status unknown")).Once()
	g.On("QueryOrder", mock.Anything, "BTC/USDT", "te-abc").
		Return(ExecutionReport{OrderID: "7", OrderLinkID: "te-abc", Status: StatusFilled, FilledQty: decimal.NewFromInt(1)}, true, nil).Once()

	rep, err := NewResilient(g, fastPolicy, nil).PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "7", rep.OrderID)
	assert.True(t, rep.Filled())
	g.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestResilientKnownRejectedOrderIsFinal(t *testing.T) {
	g := &mockGateway{}
	g.On("PlaceOrder", mock.Anything, mock.Anything).Return(ExecutionReport{}, errors.New("timeout")).Once()
	g.On("QueryOrder", mock.Anything, mock.Anything, mock.Anything).
		Return(ExecutionReport{OrderLinkID: "te-abc", Status: StatusRejected}, true, nil).Once()

	_, err := NewResilient(g, fastPolicy, nil).PlaceOrder(context.Background(), order())
	require.ErrorIs(t, err, ErrOrderRejected)
	g.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestResilientLookupFailureDoesNotResend(t *testing.T) {
	g := &mockGateway{}
	g.On("PlaceOrder", mock.Anything, mock.Anything).Return(ExecutionReport{}, errors.New("timeout")).Once()
	g.On("QueryOrder", mock.Anything, mock.Anything, mock.Anything).Return(ExecutionReport{}, false, errors.New("503"))

	_, err := NewResilient(g, fastPolicy, nil).PlaceOrder(context.Background(), order())
	require.Error(t, err)
	g.AssertNumberOfCalls(t, "PlaceOrder", 1)
	g.AssertNumberOfCalls(t, "QueryOrder", 2)
}

func TestResilientStopsOnRejection(t *testing.T) {
	g := &mockGateway{}
	g.On("PlaceOrder", mock.Anything, mock.Anything).Return(ExecutionReport{}, fmt.Errorf("%w: lot size", ErrOrderRejected))

	_, err := NewResilient(g, fastPolicy, nil).PlaceOrder(context.Background(), order())
	require.ErrorIs(t, err, ErrOrderRejected)
	g.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestResilientBoundedAttempts(t *testing.T) {
	g := &mockGateway{}
	g.On("PlaceOrder", mock.Anything, mock.Anything).Return(ExecutionReport{}, errors.New("503"))
	g.On("QueryOrder", mock.Anything, mock.Anything, mock.Anything).Return(ExecutionReport{}, false, nil)

	_, err := NewResilient(g, fastPolicy, nil).PlaceOrder(context.Background(), order())
	require.Error(t, err)
	g.AssertNumberOfCalls(t, "PlaceOrder", 3)
}

func TestResilientBreakerOpens(t *testing.T) {
	g := &mockGateway{}
	g.On("PlaceOrder", mock.Anything, mock.Anything).Return(ExecutionReport{}, errors.New("503"))
	g.On("QueryOrder", mock.Anything, mock.Anything, mock.Anything).Return(ExecutionReport{}, false, nil)
	cb := circuit.NewCircuitBreaker("mock", 2, time.Hour)

	r := NewResilient(g, fastPolicy, cb)
	_, err := r.PlaceOrder(context.Background(), order())
	require.ErrorIs(t, err, circuit.ErrOpen)
	g.AssertNumberOfCalls(t, "PlaceOrder", 2)
	assert.Equal(t, circuit.StateOpen, cb.State())
}

func TestDerivedLinkID(t *testing.T) {
	assert.Equal(t, "sl-0123", DerivedLinkID("te-0123", "SL"))
	assert.Equal(t, "tp-x", DerivedLinkID("x", "tp"))
}

func TestReportHelpers(t *testing.T) {
	r := ExecutionReport{OrderID: "1", Status: StatusFilled, FilledQty: decimal.NewFromInt(2)}
	assert.True(t, r.Filled())
	assert.True(t, r.Accepted())
	assert.False(t, ExecutionReport{Status: StatusRejected, OrderID: "1"}.Accepted())
}
