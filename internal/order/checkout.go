package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-be/internal/coupon"
	"storefront-be/internal/db"
	"storefront-be/internal/events"
	"storefront-be/internal/idempotency"
	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"
	"storefront-be/internal/product"
	"storefront-be/internal/utils"
	"storefront-be/internal/wallet"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type PlaceOrderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderInput struct {
	Lines          []PlaceOrderLine `json:"lines"`
	CouponCode     string           `json:"coupon_code,omitempty"`
	PaymentMethod  PaymentMethod    `json:"payment_method"`
	GatewayOrderID string           `json:"gateway_order_id,omitempty"`
}

func (in PlaceOrderInput) validate() error {
	if len(in.Lines) == 0 {
		return ErrEmptyOrder
	}
	for _, l := range in.Lines {
		if l.ProductID == "" || l.Quantity <= 0 {
			return product.ErrInvalidQuantity
		}
	}
	switch in.PaymentMethod {
	case PaymentCOD, PaymentOnline, PaymentWallet:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPayment, in.PaymentMethod)
	}
}

// merged folds repeated products into one line, keeping first-seen order.
func (in PlaceOrderInput) merged() []PlaceOrderLine {
	idx := make(map[string]int, len(in.Lines))
	var out []PlaceOrderLine
	for _, l := range in.Lines {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

// PlaceOrder prices the lines, applies the coupon, reserves stock and, for
// wallet payments, debits the wallet, all in one transaction.
func (s *service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.place_order")
	defer span.End()

	timer := metrics.StartTimer()
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "PlaceOrder"),
	)

	o, err := s.placeOrder(ctx, log, in)
	s.metrics.ObserveOperation("place_order", outcomeLabel(err), timer.Duration())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("place order failed", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

func (s *service) placeOrder(ctx context.Context, log *zap.Logger, in PlaceOrderInput) (*Order, error) {
	actor, err := callerActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	key := s.claimKey(ctx, fmt.Sprintf("order:place:%d", actor.UserID))
	if key != "" {
		cached, err := s.idem.Begin(ctx, key)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			return nil, ErrRequestInProgress
		case err != nil:
			log.Warn("idempotency store unavailable, continuing without it", zap.Error(err))
			key = ""
		case cached != nil:
			var o Order
			if err := json.Unmarshal(cached, &o); err == nil {
				s.metrics.IncIdempotentReplay()
				log.Info("replaying stored order", zap.String("order_id", o.ID))
				return &o, nil
			}
		}
	}

	o, err := s.createOrder(ctx, log, actor, in)
	if key != "" {
		s.settleKey(ctx, log, key, o, err)
	}
	if err != nil {
		return nil, err
	}

	evs := []events.Event{placedEvent(o, events.OrderPlaced)}
	if o.Payment.Status == PaymentCompleted {
		evs = append(evs, placedEvent(o, events.PaymentCompleted))
	}
	s.publish(ctx, log, evs)

	log.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("final_amount", o.FinalAmount.StringFixed(2)),
		zap.String("payment_method", string(o.Payment.Method)),
	)
	return o, nil
}

func (s *service) createOrder(ctx context.Context, log *zap.Logger, actor Actor, in PlaceOrderInput) (*Order, error) {
	lines := in.merged()
	now := s.now()

	var o *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		ids := make([]string, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.ProductID)
		}

		products, err := s.products.GetByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}

		o = &Order{
			ID:     utils.GenerateOrderID(now),
			UserID: actor.UserID,
			Status: StatusPending,
			Payment: Payment{
				Method:         in.PaymentMethod,
				Status:         PaymentPending,
				GatewayOrderID: in.GatewayOrderID,
			},
		}

		for _, l := range lines {
			p, ok := products[l.ProductID]
			if !ok {
				return fmt.Errorf("%w: %s", product.ErrProductNotFound, l.ProductID)
			}
			if p.Status != product.StatusActive {
				return fmt.Errorf("%w: %s", product.ErrProductInactive, p.ID)
			}
			if p.Quantity < l.Quantity {
				return fmt.Errorf("%w: %s", product.ErrInsufficientStock, p.ID)
			}
			o.Items = append(o.Items, Item{
				ID:           uuid.NewString(),
				ProductID:    p.ID,
				ProductName:  p.Name,
				Quantity:     l.Quantity,
				RegularPrice: p.RegularPrice,
				UnitPrice:    p.EffectivePrice(),
				Status:       ItemActive,
				Fulfillment:  FulfillmentPending,
			})
		}

		s.pricing.Price(o)

		if in.CouponCode != "" {
			if err := s.applyCoupon(ctx, tx, o, in.CouponCode, now); err != nil {
				return err
			}
			s.pricing.Price(o)
		}

		for _, it := range o.Items {
			if err := s.products.DecrementStock(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}

		if o.Payment.Method == PaymentWallet {
			if o.FinalAmount.IsPositive() {
				if err := s.wallets.Debit(ctx, tx, wallet.Entry{
					UserID:    o.UserID,
					Amount:    o.FinalAmount,
					OrderID:   o.ID,
					Reference: "order-payment",
					Reason:    "Order payment",
				}); err != nil {
					return err
				}
			}
			at := now
			o.Payment.Status = PaymentCompleted
			o.Payment.PaidAt = &at
			o.AmountPaid = o.FinalAmount
		}

		o.addTimeline(StatusPending, now, "Order placed")

		if err := s.repo.Create(ctx, tx, o); err != nil {
			return err
		}

		if o.CouponCode != "" {
			if err := s.coupons.RecordUsage(ctx, tx, o.CouponCode, o.UserID, o.ID); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidCouponUsage, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn("create order transaction failed", zap.Error(err))
		return nil, err
	}
	return o, nil
}

func (s *service) applyCoupon(ctx context.Context, tx db.DBTX, o *Order, code string, now time.Time) error {
	c, err := s.coupons.GetByCode(ctx, tx, coupon.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCouponUsage, err)
	}

	off, err := c.Discount(o.ItemsTotal, now)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCouponUsage, err)
	}

	used, err := s.coupons.CountUserUsage(ctx, tx, c.Code, o.UserID)
	if err != nil {
		return err
	}
	if err := c.CheckUserLimit(used); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCouponUsage, err)
	}

	o.CouponCode = c.Code
	o.CouponDiscount = off
	return nil
}

func placedEvent(o *Order, typ events.Type) events.Event {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ID)
	}
	return events.Event{
		Type:       typ,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		ItemIDs:    ids,
		OccurredAt: o.CreatedAt,
	}
}
