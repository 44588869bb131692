package position

import (
	"context"

	"tradeengine/internal/signal"
)

// Store persists positions. UpdatePosition writes the whole record.
type Store interface {
	CreatePosition(ctx context.Context, p *Position) error
	GetPosition(ctx context.Context, id string) (*Position, error)
	GetPositionByOrderLinkID(ctx context.Context, orderLinkID string) (*Position, error)
	// ListPositions filters by symbol ("" = any) and status (none = any).
	ListPositions(ctx context.Context, symbol string, statuses ...Status) ([]*Position, error)
	UpdatePosition(ctx context.Context, p *Position) error
}

// SignalLookup resolves a position's origin.
type SignalLookup interface {
	GetSignal(ctx context.Context, id string) (*signal.Signal, error)
	GetSignalByOrderLinkID(ctx context.Context, orderLinkID string) (*signal.Signal, error)
}
