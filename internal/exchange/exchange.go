package exchange

import (
	"github.com/tradewire/relay/internal/types"
)

// Client is the surface this core consumes from the exchange
// connectivity layer. Everything behind it is thin I/O against a
// venue's API: quotes, balances, order placement and detail lookup.
// Order IDs and rejection reasons are extracted from a SendWebhook
// result via types.SubmitResult.
type Client interface {
	// GetTicker returns the current bid/ask quote for the symbol.
	GetTicker(symbol string) (*types.Ticker, error)

	// GetBalance returns the available amount of the base asset.
	GetBalance(base string) (float64, error)

	// PlaceOrder submits a direct order and returns its ID.
	PlaceOrder(pair, orderType, side string, amount, price float64) (string, error)

	// GetOrderDetails fetches the fill detail of a placed order.
	GetOrderDetails(id, symbol string) (*types.OrderDetail, error)

	// SendWebhook feeds a complete relay order back through the order
	// pipeline, as if it had arrived from an upstream signal.
	SendWebhook(order *types.Order) (types.SubmitResult, error)

	// BaseAsset resolves the base asset of a tradable symbol.
	BaseAsset(symbol string) (string, error)
}
