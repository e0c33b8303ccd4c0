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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("order/service")

type Service interface {
	PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]*Order, int64, error)

	CancelItem(ctx context.Context, orderID, itemID, reason string) (*Result, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*Result, error)
	RequestReturn(ctx context.Context, orderID string, target Target, reason string) (*Result, error)

	ApproveReturn(ctx context.Context, orderID string, target Target, note string) (*Result, error)
	RejectReturn(ctx context.Context, orderID string, target Target, reason string) (*Result, error)
	AdminTransition(ctx context.Context, orderID string, to Status) (*Result, error)
	AdminBulkUpdate(ctx context.Context, orderID string, updates []ItemUpdate) (*Result, error)

	MarkPaymentCompleted(ctx context.Context, orderID, gatewayPaymentID string) (*Result, error)
	MarkPaymentFailed(ctx context.Context, orderID, reason string) (*Result, error)
}

// Deps are the collaborators of the order service. Idempotency, Publisher
// and Metrics are optional.
type Deps struct {
	Reader      db.DBTX
	Tx          db.TxRunner
	Repo        Repository
	Products    product.Repository
	Wallets     wallet.Repository
	Coupons     coupon.Repository
	Engine      *Engine
	Pricing     PricingRules
	Idempotency idempotency.Store
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type service struct {
	reader   db.DBTX
	tx       db.TxRunner
	repo     Repository
	products product.Repository
	wallets  wallet.Repository
	coupons  coupon.Repository
	engine   *Engine
	pricing  PricingRules
	idem     idempotency.Store
	pub      events.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(d Deps) Service {
	s := &service{
		reader:   d.Reader,
		tx:       d.Tx,
		repo:     d.Repo,
		products: d.Products,
		wallets:  d.Wallets,
		coupons:  d.Coupons,
		engine:   d.Engine,
		pricing:  d.Pricing,
		idem:     d.Idempotency,
		pub:      d.Publisher,
		metrics:  d.Metrics,
		now:      d.Now,
	}
	if s.engine == nil {
		s.engine = NewEngine(ProratePerLine, DefaultReturnWindow)
	}
	if s.pub == nil {
		s.pub = events.Noop{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

type actorFunc func(ctx context.Context) (Actor, error)

// callerActor is the authenticated user on the request.
func callerActor(ctx context.Context) (Actor, error) {
	id, ok := utils.GetUserIDFromContext(ctx)
	if !ok || id == 0 {
		return Actor{}, ErrUnauthorized
	}
	return Actor{UserID: id, Role: utils.GetUserRoleFromContext(ctx)}, nil
}

// systemActor is used for gateway callbacks, which carry no user.
func systemActor(context.Context) (Actor, error) {
	return Actor{Role: RoleSystem}, nil
}

type command func(o *Order, actor Actor) (*Outcome, error)

func (s *service) CancelItem(ctx context.Context, orderID, itemID, reason string) (*Result, error) {
	return s.mutate(ctx, "cancel_item", orderID, callerActor, func(o *Order, a Actor) (*Outcome, error) {
		return s.engine.CancelItem(o, itemID, reason, a)
	})
}

func (s *service) CancelOrder(ctx context.Context, orderID, reason string) (*Result, error) {
	return s.mutate(ctx, "cancel_order", orderID, callerActor, func(o *Order, a Actor) (*Outcome, error) {
		return s.engine.CancelOrder(o, reason, a)
	})
}

func (s *service) RequestReturn(ctx context.Context, orderID string, target Target, reason string) (*Result, error) {
	return s.mutate(ctx, "request_return", orderID, callerActor, func(o *Order, a Actor) (*Outcome, error) {
		return s.engine.RequestReturn(o, target, reason, a)
	})
}

func (s *service) ApproveReturn(ctx context.Context, orderID string, target Target, note string) (*Result, error) {
	return s.mutate(ctx, "approve_return", orderID, callerActor, func(o *Order, a Actor) (*Outcome, error) {
		return s.engine.ApproveReturn(o, target, note, a)
	})
}

func (s *service) RejectReturn(ctx context.Context, orderID string, target Target, reason string) (*Result, error) {
	return s.mutate(ctx, "reject_return", orderID, callerActor, func(o *Order, a Actor) (*Outcome, error) {
		return s.engine.RejectReturn(o, target, reason, a)
	})
}

func (s *service) AdminTransition(ctx context.Context, orderID string, to Status) (*Result, error) {
	return s.mutate(ctx, "admin_transition", orderID, callerActor, func(o *Order, a Actor) (*Outcome, error) {
		return s.engine.AdminTransition(o, to, a)
	})
}

func (s *service) AdminBulkUpdate(ctx context.Context, orderID string, updates []ItemUpdate) (*Result, error) {
	return s.mutate(ctx, "admin_bulk_update", orderID, callerActor, func(o *Order, a Actor) (*Outcome, error) {
		return s.engine.AdminBulkUpdate(o, updates, a)
	})
}

func (s *service) MarkPaymentCompleted(ctx context.Context, orderID, gatewayPaymentID string) (*Result, error) {
	return s.mutate(ctx, "payment_completed", orderID, systemActor, func(o *Order, _ Actor) (*Outcome, error) {
		return s.engine.CompletePayment(o, gatewayPaymentID)
	})
}

func (s *service) MarkPaymentFailed(ctx context.Context, orderID, reason string) (*Result, error) {
	return s.mutate(ctx, "payment_failed", orderID, systemActor, func(o *Order, _ Actor) (*Outcome, error) {
		return s.engine.FailPayment(o, reason)
	})
}

// mutate runs one lifecycle command as a unit of work: the order row is
// locked, the command applied, and the order, stock and wallet writes
// committed together. Events go out after the commit.
func (s *service) mutate(ctx context.Context, op, orderID string, resolve actorFunc, cmd command) (*Result, error) {
	ctx, span := tracer.Start(ctx, "order."+op)
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	timer := metrics.StartTimer()
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", op),
		zap.String("order_id", orderID),
	)

	res, err := s.mutateIdempotent(ctx, log, op, orderID, resolve, cmd)

	label := outcomeLabel(err)
	if err == nil && res.AlreadyProcessed {
		label = "noop"
	}
	s.metrics.ObserveOperation(op, label, timer.Duration())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("order operation failed", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("order.status", string(res.OrderStatus)))
	return res, nil
}

func (s *service) mutateIdempotent(ctx context.Context, log *zap.Logger, op, orderID string, resolve actorFunc, cmd command) (*Result, error) {
	actor, err := resolve(ctx)
	if err != nil {
		return nil, err
	}

	key := s.claimKey(ctx, fmt.Sprintf("order:%s:%s:%d", op, orderID, actor.UserID))
	if key != "" {
		cached, err := s.idem.Begin(ctx, key)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			return nil, ErrRequestInProgress
		case err != nil:
			log.Warn("idempotency store unavailable, continuing without it", zap.Error(err))
			key = ""
		case cached != nil:
			var res Result
			if err := json.Unmarshal(cached, &res); err == nil {
				s.metrics.IncIdempotentReplay()
				log.Info("replaying stored result")
				return &res, nil
			}
			log.Warn("stored result unreadable, running again")
		}
	}

	res, err := s.execute(ctx, log, orderID, actor, cmd)
	if key != "" {
		s.settleKey(ctx, log, key, res, err)
	}
	return res, err
}

func (s *service) claimKey(ctx context.Context, scope string) string {
	if s.idem == nil {
		return ""
	}
	k := utils.IdempotencyKeyFrom(ctx)
	if k == "" {
		return ""
	}
	return scope + ":" + k
}

func (s *service) settleKey(ctx context.Context, log *zap.Logger, key string, v any, err error) {
	if err != nil {
		if rerr := s.idem.Release(ctx, key); rerr != nil {
			log.Warn("failed to release idempotency key", zap.Error(rerr))
		}
		return
	}
	data, merr := json.Marshal(v)
	if merr != nil {
		log.Warn("failed to encode result for idempotency", zap.Error(merr))
		return
	}
	if cerr := s.idem.Complete(ctx, key, data); cerr != nil {
		log.Warn("failed to store idempotent result", zap.Error(cerr))
	}
}

func (s *service) execute(ctx context.Context, log *zap.Logger, orderID string, actor Actor, cmd command) (*Result, error) {
	var out *Outcome

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		o, err := s.repo.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		out, err = cmd(o, actor)
		if err != nil {
			return err
		}
		if out.Result.AlreadyProcessed {
			return nil
		}

		if err := s.repo.Save(ctx, tx, o); err != nil {
			return err
		}
		return s.applyEffects(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}

	res := out.Result
	if res.AlreadyProcessed {
		log.Info("operation already applied")
		return &res, nil
	}

	s.record(out)
	res.Errors = append(res.Errors, s.publish(ctx, log, out.Events)...)

	log.Info("order operation applied",
		zap.String("status", string(res.OrderStatus)),
		zap.String("refund", res.RefundAmount.StringFixed(2)),
	)
	return &res, nil
}

// applyEffects performs the stock and wallet side of an outcome inside the
// order transaction.
func (s *service) applyEffects(ctx context.Context, tx db.DBTX, out *Outcome) error {
	for _, d := range out.StockDeltas {
		if err := s.products.IncrementStock(ctx, tx, d.ProductID, d.Quantity); err != nil {
			return fmt.Errorf("%w: restock %s: %w", ErrDependencyFailure, d.ProductID, err)
		}
	}
	for _, e := range out.WalletCredits {
		if _, err := s.wallets.Credit(ctx, tx, e); err != nil {
			return fmt.Errorf("%w: wallet credit: %w", ErrDependencyFailure, err)
		}
	}
	return nil
}

func (s *service) record(out *Outcome) {
	if out.Result.RefundAmount.IsPositive() {
		s.metrics.AddRefund(out.Result.RefundAmount.InexactFloat64())
	}
	units := 0
	for _, d := range out.StockDeltas {
		units += d.Quantity
	}
	if units > 0 {
		s.metrics.AddStockRestored(units)
	}
}

// publish sends events after commit. Failures are reported, never returned.
func (s *service) publish(ctx context.Context, log *zap.Logger, evs []events.Event) []string {
	if len(evs) == 0 {
		return nil
	}
	if err := s.pub.Publish(ctx, evs...); err != nil {
		s.metrics.IncPublishFailure()
		log.Warn("failed to publish order events", zap.Int("events", len(evs)), zap.Error(err))
		return []string{"event publish failed: " + err.Error()}
	}
	return nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrItemNotFound):
		return "not_found"
	case errors.Is(err, ErrDependencyFailure):
		return "dependency_failure"
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrRequestInProgress):
		return "conflict"
	default:
		return "error"
	}
}

// GetOrder returns an order to its owner or an admin.
func (s *service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	actor, err := callerActor(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "GetOrder"),
		zap.String("order_id", orderID),
	)

	o, err := s.repo.GetByID(ctx, s.reader, orderID)
	if err != nil {
		log.Warn("failed to load order", zap.Error(err))
		return nil, err
	}
	if err := authorizeOwner(o, actor); err != nil {
		log.Warn("order access denied", zap.Uint("user_id", actor.UserID))
		return nil, err
	}
	return o, nil
}

// ListOrders lists orders. Customers only ever see their own.
func (s *service) ListOrders(ctx context.Context, f ListFilter) ([]*Order, int64, error) {
	actor, err := callerActor(ctx)
	if err != nil {
		return nil, 0, err
	}
	if !isAdmin(actor) {
		f.UserID = actor.UserID
	}
	return s.repo.List(ctx, s.reader, f)
}
