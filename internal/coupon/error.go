package coupon

import "errors"

var (
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponInactive      = errors.New("coupon is not active")
	ErrCouponExpired       = errors.New("coupon has expired")
	ErrMinPurchaseNotMet   = errors.New("minimum purchase amount not met")
	ErrUsageLimitReached   = errors.New("coupon usage limit reached")
	ErrPerUserLimitReached = errors.New("coupon already used the maximum number of times")
	ErrInvalidCoupon       = errors.New("invalid coupon")
)
