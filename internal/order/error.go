package order

import "errors"

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrItemNotFound       = errors.New("order item not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrAlreadyProcessed   = errors.New("already processed")
	ErrDependencyFailure  = errors.New("dependency failure")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrVersionConflict    = errors.New("order was modified concurrently")
	ErrRequestInProgress  = errors.New("request with this idempotency key is in progress")
	ErrEmptyOrder         = errors.New("order must contain at least one item")
	ErrInvalidPayment     = errors.New("invalid payment method")
	ErrInvalidCouponUsage = errors.New("coupon cannot be applied")
)
