package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/logger"
	"tradeengine/internal/pkg/convert"
	symbolpkg "tradeengine/internal/pkg/symbol"
	"tradeengine/internal/types"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// codeUnknownOrder is returned by the venue when a client order id was never seen.
const codeUnknownOrder = -2013

// Codes worth retrying: disconnects, rate limits, timestamp drift.
var transientCodes = map[int64]struct{}{
	-1000: {}, -1001: {}, -1003: {}, -1006: {}, -1007: {}, -1008: {}, -1021: {},
}

// OrderGateway places USDⓈ-M futures orders. The order link id travels as
// newClientOrderId, which the venue enforces as unique per open order.
type OrderGateway struct {
	cfg    Config
	client *futures.Client
}

var _ exchange.Gateway = (*OrderGateway)(nil)

func NewOrderGateway(cfg Config) (*OrderGateway, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, fmt.Errorf("binance order gateway: api key and secret are required")
	}
	client, err := newFuturesClient(final)
	if err != nil {
		return nil, err
	}
	return &OrderGateway{cfg: final, client: client}, nil
}

func (g *OrderGateway) Name() string { return "binance" }

func (g *OrderGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.ExecutionReport, error) {
	if req.OrderLinkID == "" {
		return exchange.ExecutionReport{}, fmt.Errorf("%w: order link id required", exchange.ErrOrderRejected)
	}
	if !req.Quantity.IsPositive() {
		return exchange.ExecutionReport{}, fmt.Errorf("%w: quantity must be positive", exchange.ErrOrderRejected)
	}
	typ := req.Type
	if typ == "" {
		typ = exchange.OrderMarket
	}
	svc := g.client.NewCreateOrderService().
		Symbol(symbolpkg.ToBinance(req.Symbol)).
		Side(sideType(req.Side)).
		Type(futures.OrderType(typ)).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.OrderLinkID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	switch typ {
	case exchange.OrderLimit:
		svc = svc.Price(req.Price.String()).TimeInForce(futures.TimeInForceTypeGTC)
	case exchange.OrderStopMarket, exchange.OrderTakeProfit:
		svc = svc.StopPrice(req.StopPrice.String())
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if g.cfg.RecvWindow > 0 {
		res, err := svc.Do(ctx, futures.WithRecvWindow(g.cfg.RecvWindow))
		return g.createResult(req, typ, res, err)
	}
	res, err := svc.Do(ctx)
	return g.createResult(req, typ, res, err)
}

func (g *OrderGateway) createResult(req exchange.OrderRequest, typ exchange.OrderType, res *futures.CreateOrderResponse, err error) (exchange.ExecutionReport, error) {
	if err != nil {
		err = classify(err)
		rep := exchange.ExecutionReport{OrderLinkID: req.OrderLinkID, Symbol: req.Symbol, Side: req.Side, Type: typ, At: g.cfg.Now()}
		if errors.Is(err, exchange.ErrOrderRejected) {
			rep.Status = exchange.StatusRejected
			rep.Reason = err.Error()
		}
		logger.Warnf("[binance] place %s %s link=%s: %v", req.Side, req.Symbol, req.OrderLinkID, err)
		return rep, err
	}
	rep := exchange.ExecutionReport{
		OrderID:     strconv.FormatInt(res.OrderID, 10),
		OrderLinkID: res.ClientOrderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        typ,
		Status:      orderStatus(res.Status),
		FilledQty:   convert.ToDecimal(res.ExecutedQuantity),
		AvgPrice:    convert.ToDecimal(res.AvgPrice),
		At:          millisOr(res.UpdateTime, g.cfg.Now()),
	}
	if rep.OrderLinkID == "" {
		rep.OrderLinkID = req.OrderLinkID
	}
	if rep.Status == exchange.StatusRejected {
		return rep, fmt.Errorf("%w: venue status %s", exchange.ErrOrderRejected, res.Status)
	}
	return rep, nil
}

func (g *OrderGateway) QueryOrder(ctx context.Context, symbol, orderLinkID string) (exchange.ExecutionReport, bool, error) {
	order, err := g.client.NewGetOrderService().
		Symbol(symbolpkg.ToBinance(symbol)).
		OrigClientOrderID(orderLinkID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder {
			return exchange.ExecutionReport{}, false, nil
		}
		return exchange.ExecutionReport{}, false, classify(err)
	}
	return exchange.ExecutionReport{
		OrderID:     strconv.FormatInt(order.OrderID, 10),
		OrderLinkID: order.ClientOrderID,
		Symbol:      symbol,
		Side:        types.Side(order.Side),
		Type:        exchange.OrderType(order.Type),
		Status:      orderStatus(order.Status),
		FilledQty:   convert.ToDecimal(order.ExecutedQuantity),
		AvgPrice:    convert.ToDecimal(order.AvgPrice),
		At:          millisOr(order.UpdateTime, g.cfg.Now()),
	}, true, nil
}

// classify marks venue refusals as final; transport errors and transient codes stay retryable.
func classify(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if _, ok := transientCodes[apiErr.Code]; ok {
		return err
	}
	return fmt.Errorf("%w: %d %s", exchange.ErrOrderRejected, apiErr.Code, apiErr.Message)
}

func sideType(s types.Side) futures.SideType {
	if s.IsLong() {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func orderStatus(s futures.OrderStatusType) exchange.OrderStatus {
	switch strings.ToUpper(string(s)) {
	case "NEW":
		return exchange.StatusNew
	case "PARTIALLY_FILLED":
		return exchange.StatusPartiallyFilled
	case "FILLED":
		return exchange.StatusFilled
	case "REJECTED":
		return exchange.StatusRejected
	default:
		return exchange.StatusCanceled
	}
}


func millisOr(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}
