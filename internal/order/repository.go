package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	Create(ctx context.Context, q db.DBTX, o *Order) error
	GetByID(ctx context.Context, q db.DBTX, id string) (*Order, error)
	// GetForUpdate loads the order and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, q db.DBTX, id string) (*Order, error)
	// Save writes the order guarded by its version, then bumps it.
	Save(ctx context.Context, q db.DBTX, o *Order) error
	List(ctx context.Context, q db.DBTX, f ListFilter) ([]*Order, int64, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

const orderColumns = `
	id, user_id, subtotal, product_discount, items_total, coupon_code, coupon_discount,
	order_discount, shipping_charge, total_price, final_amount, amount_paid, refunded_amount,
	status, payment_method, payment_status, gateway_order_id, gateway_payment_id, paid_at,
	return_attempted, return_reason, admin_note, return_rejection_reason,
	version, created_at, updated_at`

const itemColumns = `
	id, order_id, product_id, product_name, quantity, regular_price, unit_price, total,
	status, fulfillment, cancel_reason, cancelled_at, return_reason, return_requested_at,
	returned_at, return_rejection_reason, return_attempted, restocked, refund_amount`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var (
		o                    Order
		couponCode           sql.NullString
		gatewayOrderID       sql.NullString
		gatewayPaymentID     sql.NullString
		paidAt               sql.NullTime
		returnReason         sql.NullString
		adminNote            sql.NullString
		returnRejectedReason sql.NullString
	)

	err := row.Scan(
		&o.ID, &o.UserID, &o.Subtotal, &o.ProductDiscount, &o.ItemsTotal, &couponCode, &o.CouponDiscount,
		&o.OrderDiscount, &o.ShippingCharge, &o.TotalPrice, &o.FinalAmount, &o.AmountPaid, &o.RefundedAmount,
		&o.Status, &o.Payment.Method, &o.Payment.Status, &gatewayOrderID, &gatewayPaymentID, &paidAt,
		&o.ReturnAttempted, &returnReason, &adminNote, &returnRejectedReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.CouponCode = couponCode.String
	o.Payment.GatewayOrderID = gatewayOrderID.String
	o.Payment.GatewayPaymentID = gatewayPaymentID.String
	o.Payment.PaidAt = timePtr(paidAt)
	o.ReturnReason = returnReason.String
	o.AdminNote = adminNote.String
	o.ReturnRejectionReason = returnRejectedReason.String
	return &o, nil
}

func scanItem(row scanner) (string, Item, error) {
	var (
		it                Item
		orderID           string
		cancelledAt       sql.NullTime
		returnRequestedAt sql.NullTime
		returnedAt        sql.NullTime
	)

	err := row.Scan(
		&it.ID, &orderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.RegularPrice, &it.UnitPrice, &it.Total,
		&it.Status, &it.Fulfillment, &it.CancelReason, &cancelledAt, &it.ReturnReason, &returnRequestedAt,
		&returnedAt, &it.ReturnRejectionReason, &it.ReturnAttempted, &it.Restocked, &it.RefundAmount,
	)
	if err != nil {
		return "", Item{}, err
	}

	it.CancelledAt = timePtr(cancelledAt)
	it.ReturnRequestedAt = timePtr(returnRequestedAt)
	it.ReturnedAt = timePtr(returnedAt)
	return orderID, it, nil
}

func (r *repository) Create(ctx context.Context, q db.DBTX, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Create"),
		zap.String("order_id", o.ID),
	)

	err := q.QueryRowContext(ctx, `
		INSERT INTO orders (
			id, user_id, subtotal, product_discount, items_total, coupon_code, coupon_discount,
			order_discount, shipping_charge, total_price, final_amount, amount_paid, refunded_amount,
			status, payment_method, payment_status, gateway_order_id, gateway_payment_id, paid_at,
			return_attempted, return_reason, admin_note, return_rejection_reason, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, 1
		)
		RETURNING version, created_at, updated_at
	`,
		o.ID, o.UserID, o.Subtotal, o.ProductDiscount, o.ItemsTotal, nullString(o.CouponCode), o.CouponDiscount,
		o.OrderDiscount, o.ShippingCharge, o.TotalPrice, o.FinalAmount, o.AmountPaid, o.RefundedAmount,
		o.Status, o.Payment.Method, o.Payment.Status, nullString(o.Payment.GatewayOrderID),
		nullString(o.Payment.GatewayPaymentID), o.Payment.PaidAt,
		o.ReturnAttempted, o.ReturnReason, o.AdminNote, o.ReturnRejectionReason,
	).Scan(&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		log.Error("failed to insert order", zap.Error(err))
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, product_name, quantity,
				regular_price, unit_price, total, status, fulfillment
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			it.ID, o.ID, i, it.ProductID, it.ProductName, it.Quantity,
			it.RegularPrice, it.UnitPrice, it.Total, it.Status, it.Fulfillment,
		); err != nil {
			log.Error("failed to insert order item", zap.String("item_id", it.ID), zap.Error(err))
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := r.appendTimeline(ctx, q, o); err != nil {
		log.Error("failed to insert timeline", zap.Error(err))
		return err
	}

	log.Debug("order inserted", zap.Int("items", len(o.Items)))
	return nil
}

func (r *repository) GetByID(ctx context.Context, q db.DBTX, id string) (*Order, error) {
	return r.load(ctx, q, id, false)
}

func (r *repository) GetForUpdate(ctx context.Context, q db.DBTX, id string) (*Order, error) {
	return r.load(ctx, q, id, true)
}

func (r *repository) load(ctx context.Context, q db.DBTX, id string, lock bool) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	items, err := r.fetchItems(ctx, q, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]

	if err := r.fetchTimeline(ctx, q, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) fetchItems(ctx context.Context, q db.DBTX, orderIDs []string) (map[string][]Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Item, len(orderIDs))
	for rows.Next() {
		orderID, it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func (r *repository) fetchTimeline(ctx context.Context, q db.DBTX, o *Order) error {
	rows, err := q.QueryContext(ctx, `
		SELECT status, description, created_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.Status, &e.Description, &e.At); err != nil {
			return err
		}
		o.Timeline = append(o.Timeline, e)
	}
	o.persistedTimeline = len(o.Timeline)
	return rows.Err()
}

func (r *repository) Save(ctx context.Context, q db.DBTX, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Save"),
		zap.String("order_id", o.ID),
		zap.Int("version", o.Version),
	)

	var updatedAt time.Time
	err := q.QueryRowContext(ctx, `
		UPDATE orders SET
			order_discount = $1, total_price = $2, final_amount = $3, amount_paid = $4,
			refunded_amount = $5, status = $6, payment_status = $7, gateway_payment_id = $8,
			paid_at = $9, return_attempted = $10, return_reason = $11, admin_note = $12,
			return_rejection_reason = $13, version = version + 1, updated_at = NOW()
		WHERE id = $14 AND version = $15
		RETURNING updated_at
	`,
		o.OrderDiscount, o.TotalPrice, o.FinalAmount, o.AmountPaid,
		o.RefundedAmount, o.Status, o.Payment.Status, nullString(o.Payment.GatewayPaymentID),
		o.Payment.PaidAt, o.ReturnAttempted, o.ReturnReason, o.AdminNote,
		o.ReturnRejectionReason, o.ID, o.Version,
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("version conflict")
		return ErrVersionConflict
	}
	if err != nil {
		log.Error("failed to update order", zap.Error(err))
		return fmt.Errorf("update order: %w", err)
	}
	o.Version++
	o.UpdatedAt = updatedAt

	for i := range o.Items {
		it := &o.Items[i]
		if _, err := q.ExecContext(ctx, `
			UPDATE order_items SET
				status = $1, fulfillment = $2, cancel_reason = $3, cancelled_at = $4,
				return_reason = $5, return_requested_at = $6, returned_at = $7,
				return_rejection_reason = $8, return_attempted = $9, restocked = $10,
				refund_amount = $11
			WHERE id = $12 AND order_id = $13
		`,
			it.Status, it.Fulfillment, it.CancelReason, it.CancelledAt,
			it.ReturnReason, it.ReturnRequestedAt, it.ReturnedAt,
			it.ReturnRejectionReason, it.ReturnAttempted, it.Restocked,
			it.RefundAmount, it.ID, o.ID,
		); err != nil {
			log.Error("failed to update order item", zap.String("item_id", it.ID), zap.Error(err))
			return fmt.Errorf("update order item: %w", err)
		}
	}

	return r.appendTimeline(ctx, q, o)
}

func (r *repository) appendTimeline(ctx context.Context, q db.DBTX, o *Order) error {
	for _, e := range o.Timeline[o.persistedTimeline:] {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_timeline (order_id, status, description, created_at)
			VALUES ($1, $2, $3, $4)
		`, o.ID, e.Status, e.Description, e.At); err != nil {
			return fmt.Errorf("insert timeline: %w", err)
		}
	}
	o.persistedTimeline = len(o.Timeline)
	return nil
}

// List returns one page of orders with their items and the total match count.
func (r *repository) List(ctx context.Context, q db.DBTX, f ListFilter) ([]*Order, int64, error) {
	f = f.normalized()
	offset := (f.Page - 1) * f.Limit

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "List"),
		zap.Int32("limit", f.Limit),
		zap.Int32("page", f.Page),
	)

	where, args := f.where()

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders o`+where, args...).Scan(&total); err != nil {
		log.Error("failed to count orders", zap.Error(err))
		return nil, 0, err
	}

	query := `SELECT ` + prefixed("o.", orderColumns) + ` FROM orders o` + where +
		` ORDER BY ` + f.orderBy() +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, offset)

	log.Debug("executing list orders query", zap.String("query", query), zap.Any("args", args))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query orders", zap.Error(err))
		return nil, 0, err
	}
	defer rows.Close()

	var (
		orders []*Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			log.Error("failed to scan order row", zap.Error(err))
			return nil, 0, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(ids) > 0 {
		items, err := r.fetchItems(ctx, q, ids)
		if err != nil {
			log.Error("failed to fetch order items", zap.Error(err))
			return nil, 0, err
		}
		for _, o := range orders {
			o.Items = items[o.ID]
		}
	}

	log.Info("list orders success", zap.Int("count", len(orders)), zap.Int64("total", total))
	return orders, total, nil
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
