package order

import (
	"storefront-be/internal/events"
	"storefront-be/internal/wallet"

	"github.com/shopspring/decimal"
)

// Result is what callers of a lifecycle operation get back.
type Result struct {
	Success          bool            `json:"success"`
	OrderID          string          `json:"order_id"`
	OrderStatus      Status          `json:"order_status"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	AlreadyProcessed bool            `json:"already_processed,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
}

type StockDelta struct {
	ProductID string
	Quantity  int
}

// Outcome is everything an engine operation decided. The engine never
// performs these effects itself.
type Outcome struct {
	Result        Result
	StockDeltas   []StockDelta
	WalletCredits []wallet.Entry
	Events        []events.Event
}
