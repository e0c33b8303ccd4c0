package events

import "time"

type Type string

const (
	OrderPlaced      Type = "order.placed"
	ItemCancelled    Type = "order.item_cancelled"
	OrderCancelled   Type = "order.cancelled"
	ReturnRequested  Type = "order.return_requested"
	ReturnApproved   Type = "order.return_approved"
	ReturnRejected   Type = "order.return_rejected"
	StatusChanged    Type = "order.status_changed"
	ItemsUpdated     Type = "order.items_updated"
	PaymentCompleted Type = "order.payment_completed"
	PaymentFailed    Type = "order.payment_failed"
)

// Event is one lifecycle fact about an order, keyed by order id on the wire.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	OrderID      string    `json:"order_id"`
	UserID       uint      `json:"user_id"`
	Status       string    `json:"status"`
	ItemIDs      []string  `json:"item_ids,omitempty"`
	RefundAmount string    `json:"refund_amount,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
