package exchange

import "context"

// Gateway places orders on one venue.
type Gateway interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (ExecutionReport, error)
	// QueryOrder looks an order up by its link id; found is false when the venue
	// never saw it.
	QueryOrder(ctx context.Context, symbol, orderLinkID string) (rep ExecutionReport, found bool, err error)
}
