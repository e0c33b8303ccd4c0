package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-be/internal/events"
	"storefront-be/internal/utils"
	"storefront-be/internal/wallet"

	"github.com/shopspring/decimal"
)

const DefaultReturnWindow = 7 * 24 * time.Hour

// Engine applies lifecycle commands to an order held in memory. It mutates
// the order and reports the stock, wallet and event effects in an Outcome;
// persisting both is the caller's job. On error the order is untouched.
type Engine struct {
	policy       CouponPolicy
	returnWindow time.Duration
	now          func() time.Time
}

func NewEngine(policy CouponPolicy, returnWindow time.Duration) *Engine {
	if returnWindow <= 0 {
		returnWindow = DefaultReturnWindow
	}
	return &Engine{
		policy:       policy,
		returnWindow: returnWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Policy() CouponPolicy { return e.policy }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

func isAdmin(a Actor) bool {
	return a.Role == utils.RoleAdmin || a.Role == RoleSystem
}

func authorizeOwner(o *Order, a Actor) error {
	if isAdmin(a) {
		return nil
	}
	if a.UserID == 0 || a.UserID != o.UserID {
		return ErrUnauthorized
	}
	return nil
}

func requireAdmin(a Actor) error {
	if !isAdmin(a) {
		return ErrUnauthorized
	}
	return nil
}

// change collects the effects of one command while it is applied.
type change struct {
	o            *Order
	now          time.Time
	finalBefore  decimal.Decimal
	statusBefore Status
	released     []*Item
	touched      []string
	settle       decimal.Decimal
	out          *Outcome
}

func (e *Engine) begin(o *Order) *change {
	return &change{
		o:            o,
		now:          e.now(),
		finalBefore:  o.FinalAmount,
		statusBefore: o.Status,
		out:          &Outcome{},
	}
}

func (c *change) touch(it *Item) {
	c.touched = append(c.touched, it.ID)
}

func (c *change) restock(it *Item) {
	if it.Restocked {
		return
	}
	it.Restocked = true
	c.out.StockDeltas = append(c.out.StockDeltas, StockDelta{ProductID: it.ProductID, Quantity: it.Quantity})
}

func (c *change) cancel(it *Item, reason string) {
	at := c.now
	it.Status = ItemCancelled
	it.CancelReason = reason
	it.CancelledAt = &at
	c.restock(it)
	c.released = append(c.released, it)
	c.touch(it)
}

func (c *change) markReturned(it *Item) {
	at := c.now
	it.Status = ItemReturned
	it.ReturnedAt = &at
	c.restock(it)
	c.released = append(c.released, it)
	c.touch(it)
}

// finish reprices, derives the status, settles any refund and records the
// timeline entry and events for the command.
func (e *Engine) finish(c *change, typ events.Type, kind, description, reason string) *Outcome {
	o := c.o

	Reprice(o)
	o.Status = DeriveStatus(o.Items)

	refund := c.settle
	if len(c.released) > 0 {
		released := e.policy.refund(o, c.finalBefore, c.released)
		allocate(released, c.released)
		refund = refund.Add(released)
	}
	if refund.IsPositive() {
		o.RefundedAmount = o.RefundedAmount.Add(refund)
		c.out.WalletCredits = append(c.out.WalletCredits, wallet.Entry{
			UserID:    o.UserID,
			Amount:    refund,
			OrderID:   o.ID,
			Reference: fmt.Sprintf("%s:%d", kind, o.Version),
			Reason:    description,
		})
	}

	o.addTimeline(o.Status, c.now, withReason(description, reason))
	c.out.Events = append(c.out.Events, c.event(typ, refund, reason))

	if o.Status == StatusDelivered && o.Payment.Method == PaymentCOD && o.Payment.Status == PaymentPending {
		at := c.now
		o.Payment.Status = PaymentCompleted
		o.Payment.PaidAt = &at
		o.AmountPaid = o.FinalAmount
		o.addTimeline(o.Status, c.now, "Cash on delivery payment collected")
		c.out.Events = append(c.out.Events, c.event(events.PaymentCompleted, decimal.Zero, ""))
	}

	if o.Status != c.statusBefore && typ != events.StatusChanged {
		c.out.Events = append(c.out.Events, c.event(events.StatusChanged, decimal.Zero, ""))
	}

	c.out.Result = Result{
		Success:      true,
		OrderID:      o.ID,
		OrderStatus:  o.Status,
		RefundAmount: refund,
	}
	return c.out
}

func (c *change) event(typ events.Type, refund decimal.Decimal, reason string) events.Event {
	ev := events.Event{
		Type:       typ,
		OrderID:    c.o.ID,
		UserID:     c.o.UserID,
		Status:     string(c.o.Status),
		ItemIDs:    c.touched,
		Reason:     reason,
		OccurredAt: c.now,
	}
	if refund.IsPositive() {
		ev.RefundAmount = refund.StringFixed(2)
	}
	return ev
}

func noop(o *Order) *Outcome {
	return &Outcome{Result: Result{
		Success:          true,
		OrderID:          o.ID,
		OrderStatus:      o.Status,
		RefundAmount:     decimal.Zero,
		AlreadyProcessed: true,
	}}
}

func withReason(description, reason string) string {
	if reason == "" {
		return description
	}
	return description + ": " + reason
}

// CancelItem cancels one unshipped active item.
func (e *Engine) CancelItem(o *Order, itemID, reason string, actor Actor) (*Outcome, error) {
	if err := authorizeOwner(o, actor); err != nil {
		return nil, err
	}
	it := o.item(itemID)
	if it == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if !cancellable(o.Status) {
		return nil, invalidf("cannot cancel items of a %s order", o.Status)
	}
	if it.Status != ItemActive {
		return nil, invalidf("item %s is %s", it.ID, it.Status)
	}
	if it.Shipped() {
		return nil, invalidf("item %s already shipped", it.ID)
	}

	c := e.begin(o)
	c.cancel(it, reason)
	return e.finish(c, events.ItemCancelled, "cancel-item", fmt.Sprintf("Item %s cancelled", it.ProductName), reason), nil
}

// CancelOrder cancels every active item. All of them must be unshipped.
func (e *Engine) CancelOrder(o *Order, reason string, actor Actor) (*Outcome, error) {
	if err := authorizeOwner(o, actor); err != nil {
		return nil, err
	}
	return e.cancelOrder(o, reason)
}

func (e *Engine) cancelOrder(o *Order, reason string) (*Outcome, error) {
	if !cancellable(o.Status) {
		return nil, invalidf("cannot cancel a %s order", o.Status)
	}

	var active []*Item
	for i := range o.Items {
		it := &o.Items[i]
		if it.Status != ItemActive {
			continue
		}
		if it.Shipped() {
			return nil, invalidf("item %s already shipped", it.ID)
		}
		active = append(active, it)
	}
	if len(active) == 0 {
		return nil, invalidf("no active items to cancel")
	}

	c := e.begin(o)
	for _, it := range active {
		c.cancel(it, reason)
	}
	return e.finish(c, events.OrderCancelled, "cancel-order", "Order cancelled", reason), nil
}

// RequestReturn marks delivered items as awaiting a return decision. Only one
// request is accepted per order.
func (e *Engine) RequestReturn(o *Order, target Target, reason string, actor Actor) (*Outcome, error) {
	if err := authorizeOwner(o, actor); err != nil {
		return nil, err
	}
	return e.requestReturn(o, target, reason, !isAdmin(actor))
}

func (e *Engine) requestReturn(o *Order, target Target, reason string, enforceWindow bool) (*Outcome, error) {
	if o.Status != StatusDelivered {
		return nil, invalidf("order is %s, only delivered orders can be returned", o.Status)
	}
	if o.ReturnAttempted {
		return nil, invalidf("return already submitted")
	}

	now := e.now()
	if enforceWindow {
		at, ok := o.DeliveredAt()
		if !ok {
			return nil, invalidf("delivery time unknown")
		}
		if now.After(at.Add(e.returnWindow)) {
			return nil, invalidf("return window closed on %s", at.Add(e.returnWindow).Format(time.DateOnly))
		}
	}

	items, err := selectItems(o, target, func(it *Item) error {
		if it.ReturnAttempted {
			return invalidf("return already submitted for item %s", it.ID)
		}
		if it.Status != ItemActive {
			return invalidf("item %s is %s", it.ID, it.Status)
		}
		return nil
	}, func(it *Item) bool { return it.Status == ItemActive })
	if err != nil {
		return nil, err
	}

	c := e.begin(o)
	c.now = now
	for _, it := range items {
		at := now
		it.Status = ItemReturnRequested
		it.ReturnReason = reason
		it.ReturnRequestedAt = &at
		it.ReturnAttempted = true
		c.touch(it)
	}
	o.ReturnAttempted = true
	o.ReturnReason = reason

	description := "Return requested"
	if live := countLive(o); len(items) < live {
		description = fmt.Sprintf("Return requested for %d of %d items", len(items), live)
	}
	return e.finish(c, events.ReturnRequested, "return-request", description, reason), nil
}

// ApproveReturn accepts pending returns. When the whole order is awaiting
// return every live item is taken back and shipping is refunded with it.
// Approving items that are already returned reports AlreadyProcessed.
func (e *Engine) ApproveReturn(o *Order, target Target, note string, actor Actor) (*Outcome, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	out, err := e.approveReturn(o, target, note)
	if errors.Is(err, ErrAlreadyProcessed) {
		return noop(o), nil
	}
	return out, err
}

func (e *Engine) approveReturn(o *Order, target Target, note string) (*Outcome, error) {
	var items []*Item

	if wholeOrderReturn(o) {
		for i := range o.Items {
			if o.Items[i].Live() {
				items = append(items, &o.Items[i])
			}
		}
	} else {
		returned := 0
		candidates, err := selectItems(o, target, nil, func(it *Item) bool {
			return it.Status == ItemReturnRequested || it.Status == ItemReturned
		})
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		for _, it := range candidates {
			switch it.Status {
			case ItemReturnRequested:
				items = append(items, it)
			case ItemReturned:
				returned++
			default:
				return nil, invalidf("item %s has no pending return", it.ID)
			}
		}
		if len(items) == 0 {
			if returned > 0 {
				return nil, ErrAlreadyProcessed
			}
			return nil, invalidf("no pending return to approve")
		}
	}

	c := e.begin(o)
	for _, it := range items {
		c.markReturned(it)
	}
	o.AdminNote = note
	return e.finish(c, events.ReturnApproved, "return", "Return approved", note), nil
}

// wholeOrderReturn is true when the order as a whole is awaiting return and
// nothing has been cancelled or returned yet.
func wholeOrderReturn(o *Order) bool {
	if o.Status != StatusReturnRequested {
		return false
	}
	for i := range o.Items {
		if s := o.Items[i].Status; s != ItemActive && s != ItemReturnRequested {
			return false
		}
	}
	return true
}

// RejectReturn puts pending return items back to active.
func (e *Engine) RejectReturn(o *Order, target Target, reason string, actor Actor) (*Outcome, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	items, err := selectItems(o, target, func(it *Item) error {
		if it.Status != ItemReturnRequested {
			return invalidf("item %s has no pending return", it.ID)
		}
		return nil
	}, func(it *Item) bool { return it.Status == ItemReturnRequested })
	if err != nil {
		return nil, err
	}

	c := e.begin(o)
	for _, it := range items {
		it.Status = ItemActive
		it.ReturnRejectionReason = reason
		c.touch(it)
	}
	o.ReturnRejectionReason = reason
	return e.finish(c, events.ReturnRejected, "return-reject", "Return rejected", reason), nil
}

// AdminTransition moves the order along the admin status table.
func (e *Engine) AdminTransition(o *Order, to Status, actor Actor) (*Outcome, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if to == o.Status {
		return nil, invalidf("order is already %s", to)
	}

	switch {
	case to == StatusCancelled:
		if !adminCancellable(o.Status) {
			return nil, invalidf("cannot move order from %s to %s", o.Status, to)
		}
		return e.cancelOrder(o, "Cancelled by admin")

	case to == StatusReturnRequested:
		if o.Status != StatusDelivered {
			return nil, invalidf("cannot move order from %s to %s", o.Status, to)
		}
		return e.requestReturn(o, Target{WholeOrder: true}, "Requested by admin", false)

	case to == StatusReturned:
		if o.Status != StatusReturnRequested {
			return nil, invalidf("cannot move order from %s to %s", o.Status, to)
		}
		return e.ApproveReturn(o, Target{WholeOrder: true}, "", actor)

	case isStage(to):
		want, ok := forwardTarget(o.Status, o.Items)
		if !ok || want != to {
			return nil, invalidf("cannot move order from %s to %s", o.Status, to)
		}
		stage := Fulfillment(to)

		c := e.begin(o)
		for i := range o.Items {
			it := &o.Items[i]
			if it.Status == ItemActive && fulfillmentRank[it.Fulfillment] < fulfillmentRank[stage] {
				it.Fulfillment = stage
				c.touch(it)
			}
		}
		return e.finish(c, events.StatusChanged, "status", fmt.Sprintf("Order %s", strings.ToLower(string(to))), ""), nil
	}

	return nil, invalidf("cannot move order from %s to %s", o.Status, to)
}

// AdminBulkUpdate applies per-item changes and then derives the order
// status once. Every update is validated before any is applied.
func (e *Engine) AdminBulkUpdate(o *Order, updates []ItemUpdate, actor Actor) (*Outcome, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, invalidf("no item updates given")
	}

	type step struct {
		it *Item
		to string
	}
	steps := make([]step, 0, len(updates))
	seen := make(map[string]bool, len(updates))

	for _, u := range updates {
		it := o.item(u.ItemID)
		if it == nil {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, u.ItemID)
		}
		if seen[it.ID] {
			return nil, invalidf("item %s updated twice", it.ID)
		}
		seen[it.ID] = true

		to := strings.ToUpper(strings.TrimSpace(u.Status))
		switch {
		case to == string(ItemCancelled):
			if it.Status != ItemActive || it.Shipped() {
				return nil, invalidf("item %s cannot be cancelled", it.ID)
			}
		case to == string(ItemReturned):
			if it.Status != ItemReturnRequested {
				return nil, invalidf("item %s has no pending return", it.ID)
			}
		case isStage(Status(to)):
			next, ok := nextFulfillment(it.Fulfillment)
			if it.Status != ItemActive || !ok || string(next) != to {
				return nil, invalidf("item %s cannot move from %s to %s", it.ID, it.Fulfillment, to)
			}
		default:
			return nil, invalidf("unsupported item status %q", u.Status)
		}
		steps = append(steps, step{it: it, to: to})
	}

	c := e.begin(o)
	for _, s := range steps {
		switch s.to {
		case string(ItemCancelled):
			c.cancel(s.it, "Cancelled by admin")
		case string(ItemReturned):
			c.markReturned(s.it)
		default:
			s.it.Fulfillment = Fulfillment(s.to)
			c.touch(s.it)
		}
	}
	return e.finish(c, events.ItemsUpdated, "bulk", fmt.Sprintf("%d item(s) updated by admin", len(steps)), ""), nil
}

// CompletePayment records a confirmed gateway payment. The gateway charged
// the placement amount, so anything cancelled before the confirmation is
// credited back here. Repeats are no-ops.
func (e *Engine) CompletePayment(o *Order, gatewayPaymentID string) (*Outcome, error) {
	if o.Payment.Method != PaymentOnline {
		return nil, invalidf("%s orders are not paid through the gateway", o.Payment.Method)
	}
	switch o.Payment.Status {
	case PaymentCompleted:
		return noop(o), nil
	case PaymentFailed:
		return nil, invalidf("payment already failed")
	}

	c := e.begin(o)
	at := c.now
	o.Payment.Status = PaymentCompleted
	o.Payment.GatewayPaymentID = gatewayPaymentID
	o.Payment.PaidAt = &at
	o.AmountPaid = o.PlacedAmount()

	owed := money(o.AmountPaid.Sub(o.FinalAmount).Sub(o.RefundedAmount))
	if owed.IsPositive() {
		var cancelled []*Item
		for i := range o.Items {
			if it := &o.Items[i]; it.Status == ItemCancelled {
				cancelled = append(cancelled, it)
				c.touch(it)
			}
		}
		allocate(owed, cancelled)
		c.settle = owed
	}
	return e.finish(c, events.PaymentCompleted, "payment", "Payment completed", ""), nil
}

// FailPayment records a failed gateway payment and cancels what has not
// shipped. Nothing was paid, so nothing is refunded.
func (e *Engine) FailPayment(o *Order, reason string) (*Outcome, error) {
	if o.Payment.Method != PaymentOnline {
		return nil, invalidf("%s orders are not paid through the gateway", o.Payment.Method)
	}
	switch o.Payment.Status {
	case PaymentFailed:
		return noop(o), nil
	case PaymentCompleted:
		return nil, invalidf("payment already completed")
	}

	c := e.begin(o)
	o.Payment.Status = PaymentFailed
	if cancellable(o.Status) {
		for i := range o.Items {
			it := &o.Items[i]
			if it.Status == ItemActive && !it.Shipped() {
				c.cancel(it, "Payment failed")
			}
		}
	}
	return e.finish(c, events.PaymentFailed, "payment-failed", "Payment failed", reason), nil
}

// selectItems resolves a target to items. Explicit ids are checked with
// check (when non-nil); a whole-order target takes every item matching pick.
func selectItems(o *Order, t Target, check func(*Item) error, pick func(*Item) bool) ([]*Item, error) {
	var out []*Item

	if t.WholeOrder || len(t.ItemIDs) == 0 {
		if !t.WholeOrder {
			return nil, invalidf("no items selected")
		}
		for i := range o.Items {
			if pick(&o.Items[i]) {
				out = append(out, &o.Items[i])
			}
		}
		if len(out) == 0 {
			return nil, invalidf("no eligible items")
		}
		return out, nil
	}

	seen := make(map[string]bool, len(t.ItemIDs))
	for _, id := range t.ItemIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		it := o.item(id)
		if it == nil {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		if check != nil {
			if err := check(it); err != nil {
				return nil, err
			}
		}
		out = append(out, it)
	}
	return out, nil
}

func countLive(o *Order) int {
	n := 0
	for i := range o.Items {
		if o.Items[i].Live() {
			n++
		}
	}
	return n
}
