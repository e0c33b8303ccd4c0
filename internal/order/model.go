package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending            Status = "PENDING"
	StatusProcessing         Status = "PROCESSING"
	StatusShipped            Status = "SHIPPED"
	StatusDelivered          Status = "DELIVERED"
	StatusCancelled          Status = "CANCELLED"
	StatusReturnRequested    Status = "RETURN_REQUESTED"
	StatusReturned           Status = "RETURNED"
	StatusPartiallyCancelled Status = "PARTIALLY_CANCELLED"
	StatusPartiallyReturned  Status = "PARTIALLY_RETURNED"
	StatusPartiallyDelivered Status = "PARTIALLY_DELIVERED"
)

type ItemStatus string

const (
	ItemActive          ItemStatus = "ACTIVE"
	ItemCancelled       ItemStatus = "CANCELLED"
	ItemReturnRequested ItemStatus = "RETURN_REQUESTED"
	ItemReturned        ItemStatus = "RETURNED"
)

// Fulfillment is how far an item has travelled towards the customer.
type Fulfillment string

const (
	FulfillmentPending    Fulfillment = "PENDING"
	FulfillmentProcessing Fulfillment = "PROCESSING"
	FulfillmentShipped    Fulfillment = "SHIPPED"
	FulfillmentDelivered  Fulfillment = "DELIVERED"
)

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentOnline PaymentMethod = "ONLINE"
	PaymentWallet PaymentMethod = "WALLET"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type Order struct {
	ID     string `json:"id"`
	UserID uint   `json:"user_id"`
	Items  []Item `json:"items"`

	Subtotal        decimal.Decimal `json:"subtotal"`
	ProductDiscount decimal.Decimal `json:"product_discount"`
	ItemsTotal      decimal.Decimal `json:"items_total"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	CouponDiscount  decimal.Decimal `json:"coupon_discount"`
	OrderDiscount   decimal.Decimal `json:"order_discount"`
	ShippingCharge  decimal.Decimal `json:"shipping_charge"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`

	Status   Status          `json:"status"`
	Timeline []TimelineEntry `json:"timeline"`
	Payment  Payment         `json:"payment"`

	ReturnAttempted       bool   `json:"return_attempted"`
	ReturnReason          string `json:"return_reason,omitempty"`
	AdminNote             string `json:"admin_note,omitempty"`
	ReturnRejectionReason string `json:"return_rejection_reason,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// number of timeline entries already stored
	persistedTimeline int
}

type Item struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	RegularPrice decimal.Decimal `json:"regular_price"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Total        decimal.Decimal `json:"total"`

	Status      ItemStatus  `json:"status"`
	Fulfillment Fulfillment `json:"fulfillment"`

	CancelReason          string     `json:"cancel_reason,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	ReturnReason          string     `json:"return_reason,omitempty"`
	ReturnRequestedAt     *time.Time `json:"return_requested_at,omitempty"`
	ReturnedAt            *time.Time `json:"returned_at,omitempty"`
	ReturnRejectionReason string     `json:"return_rejection_reason,omitempty"`
	ReturnAttempted       bool       `json:"return_attempted"`

	Restocked    bool            `json:"-"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

// Live items still count towards what the customer owes.
func (i *Item) Live() bool {
	return i.Status == ItemActive || i.Status == ItemReturnRequested
}

func (i *Item) Shipped() bool {
	return fulfillmentRank[i.Fulfillment] >= fulfillmentRank[FulfillmentShipped]
}

type TimelineEntry struct {
	Status      Status    `json:"status"`
	At          time.Time `json:"at"`
	Description string    `json:"description"`
}

type Payment struct {
	Method           PaymentMethod `json:"method"`
	Status           PaymentStatus `json:"status"`
	GatewayOrderID   string        `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
}

// Actor is whoever asked for a mutation.
type Actor struct {
	UserID uint
	Role   string
}

const RoleSystem = "SYSTEM"

// Target selects the items an operation applies to.
type Target struct {
	ItemIDs    []string `json:"item_ids,omitempty"`
	WholeOrder bool     `json:"whole_order"`
}

type ItemUpdate struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

func (o *Order) item(id string) *Item {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i]
		}
	}
	return nil
}

func (o *Order) hasLiveItems() bool {
	for i := range o.Items {
		if o.Items[i].Live() {
			return true
		}
	}
	return false
}

// DeliveredAt is the first time the order reached DELIVERED.
func (o *Order) DeliveredAt() (time.Time, bool) {
	for _, e := range o.Timeline {
		if e.Status == StatusDelivered {
			return e.At, true
		}
	}
	return time.Time{}, false
}

// PendingReturnItems counts items waiting on a return decision.
func (o *Order) PendingReturnItems() int {
	n := 0
	for i := range o.Items {
		if o.Items[i].Status == ItemReturnRequested {
			n++
		}
	}
	return n
}

func (o *Order) addTimeline(status Status, at time.Time, description string) {
	o.Timeline = append(o.Timeline, TimelineEntry{Status: status, At: at, Description: description})
}
