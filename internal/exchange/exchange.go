package exchange

import (
	"context"

	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

// Exchange is the narrow client surface the trading core consumes. Keeping
// it an interface lets tests substitute a double for the real venue.
type Exchange interface {
	GetBalances(ctx context.Context) (map[string]models.Balance, error)
	GetDepth(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error)
	ExecuteOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
}
