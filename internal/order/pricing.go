package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CouponPolicy decides how much of the coupon a partial refund gives back.
type CouponPolicy string

const (
	// ProratePerLine refunds a line minus its share of the coupon.
	ProratePerLine CouponPolicy = "prorate"
	// AbsorbOnLast refunds whole lines and settles the coupon on the
	// operation that leaves nothing live.
	AbsorbOnLast CouponPolicy = "absorb"
)

func ParseCouponPolicy(s string) CouponPolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(AbsorbOnLast)) {
		return AbsorbOnLast
	}
	return ProratePerLine
}

type PricingRules struct {
	FreeShippingThreshold decimal.Decimal
	ShippingCharge        decimal.Decimal
}

func (r PricingRules) Shipping(itemsTotal decimal.Decimal) decimal.Decimal {
	if !r.FreeShippingThreshold.IsZero() && itemsTotal.GreaterThanOrEqual(r.FreeShippingThreshold) {
		return decimal.Zero
	}
	return money(r.ShippingCharge)
}

// Price fills the placement aggregates from the items and coupon discount.
func (r PricingRules) Price(o *Order) {
	subtotal := decimal.Zero
	itemsTotal := decimal.Zero
	for i := range o.Items {
		it := &o.Items[i]
		it.Total = money(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		subtotal = subtotal.Add(it.RegularPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		itemsTotal = itemsTotal.Add(it.Total)
	}

	o.Subtotal = money(subtotal)
	o.ItemsTotal = money(itemsTotal)
	o.ProductDiscount = o.Subtotal.Sub(o.ItemsTotal)
	if o.ProductDiscount.IsNegative() {
		o.ProductDiscount = decimal.Zero
	}
	if o.CouponDiscount.GreaterThan(o.ItemsTotal) {
		o.CouponDiscount = o.ItemsTotal
	}
	o.ShippingCharge = r.Shipping(o.ItemsTotal)

	Reprice(o)
}

// Reprice recomputes what is owed for the live items. The coupon is spread
// over the live share of the placement total and never exceeds it.
func Reprice(o *Order) {
	live := liveTotal(o)
	o.TotalPrice = live

	if !o.hasLiveItems() {
		o.OrderDiscount = decimal.Zero
		o.FinalAmount = decimal.Zero
		return
	}

	discount := decimal.Zero
	if o.CouponDiscount.IsPositive() && o.ItemsTotal.IsPositive() {
		discount = money(o.CouponDiscount.Mul(live).Div(o.ItemsTotal))
		if discount.GreaterThan(live) {
			discount = live
		}
	}
	o.OrderDiscount = discount
	o.FinalAmount = live.Add(o.ShippingCharge).Sub(discount)
}

func liveTotal(o *Order) decimal.Decimal {
	total := decimal.Zero
	for i := range o.Items {
		if o.Items[i].Live() {
			total = total.Add(o.Items[i].Total)
		}
	}
	return total
}

// refund computes the wallet credit owed after released items stopped being
// live. finalBefore is FinalAmount prior to the change. Cash on delivery is
// only refunded once collected; other methods refund against what was
// captured, and a gateway payment captured later settles the rest.
func (p CouponPolicy) refund(o *Order, finalBefore decimal.Decimal, released []*Item) decimal.Decimal {
	if o.Payment.Method == PaymentCOD && o.Payment.Status != PaymentCompleted {
		return decimal.Zero
	}
	remaining := o.AmountPaid.Sub(o.RefundedAmount)
	if !remaining.IsPositive() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch {
	case !o.hasLiveItems():
		amount = remaining
	case p == AbsorbOnLast:
		// returned lines refund net of their coupon share
		for _, it := range released {
			if it.Status == ItemReturned {
				amount = amount.Add(it.Total.Sub(couponShare(o, it)))
			} else {
				amount = amount.Add(it.Total)
			}
		}
	default:
		amount = finalBefore.Sub(o.FinalAmount)
	}

	amount = money(amount)
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(remaining) {
		return remaining
	}
	return amount
}

// couponShare is the part of the coupon carried by one line.
func couponShare(o *Order, it *Item) decimal.Decimal {
	if !o.CouponDiscount.IsPositive() || !o.ItemsTotal.IsPositive() {
		return decimal.Zero
	}
	return money(o.CouponDiscount.Mul(it.Total).Div(o.ItemsTotal))
}

// PlacedAmount is what the order cost when it was placed.
func (o *Order) PlacedAmount() decimal.Decimal {
	return o.ItemsTotal.Add(o.ShippingCharge).Sub(o.CouponDiscount)
}

// allocate splits amount across items by line value. The last item takes the
// rounding remainder so the parts always add up.
func allocate(amount decimal.Decimal, items []*Item) {
	if len(items) == 0 {
		return
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Total)
	}

	left := amount
	for i, it := range items {
		var share decimal.Decimal
		switch {
		case i == len(items)-1:
			share = left
		case total.IsZero():
			share = decimal.Zero
		default:
			share = money(amount.Mul(it.Total).Div(total))
		}
		it.RefundAmount = it.RefundAmount.Add(share)
		left = left.Sub(share)
	}
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
