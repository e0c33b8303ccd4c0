package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFlat       DiscountType = "flat"
)

type Coupon struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	MaxDiscount  decimal.Decimal // zero means uncapped
	UsageLimit   int             // zero means unlimited
	PerUserLimit int             // zero means unlimited
	UsedCount    int
	ExpiresAt    *time.Time
	Active       bool
}

// Discount validates the coupon against a subtotal and returns the amount off.
// The result never exceeds the subtotal.
func (c *Coupon) Discount(subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !c.Active {
		return decimal.Zero, ErrCouponInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return decimal.Zero, ErrCouponExpired
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return decimal.Zero, ErrUsageLimitReached
	}
	if subtotal.LessThan(c.MinPurchase) {
		return decimal.Zero, ErrMinPurchaseNotMet
	}

	var off decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		off = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100))
		if c.MaxDiscount.IsPositive() && off.GreaterThan(c.MaxDiscount) {
			off = c.MaxDiscount
		}
	case DiscountFlat:
		off = c.Value
	default:
		return decimal.Zero, ErrInvalidCoupon
	}

	if off.GreaterThan(subtotal) {
		off = subtotal
	}
	if off.IsNegative() {
		off = decimal.Zero
	}
	return off.Round(2), nil
}

// CheckUserLimit reports whether a user who already redeemed the coupon
// `used` times may redeem it again.
func (c *Coupon) CheckUserLimit(used int) error {
	if c.PerUserLimit > 0 && used >= c.PerUserLimit {
		return ErrPerUserLimitReached
	}
	return nil
}
