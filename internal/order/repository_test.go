package order

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{
	"id", "user_id", "subtotal", "product_discount", "items_total", "coupon_code", "coupon_discount",
	"order_discount", "shipping_charge", "total_price", "final_amount", "amount_paid", "refunded_amount",
	"status", "payment_method", "payment_status", "gateway_order_id", "gateway_payment_id", "paid_at",
	"return_attempted", "return_reason", "admin_note", "return_rejection_reason",
	"version", "created_at", "updated_at",
}

var itemCols = []string{
	"id", "order_id", "product_id", "product_name", "quantity", "regular_price", "unit_price", "total",
	"status", "fulfillment", "cancel_reason", "cancelled_at", "return_reason", "return_requested_at",
	"returned_at", "return_rejection_reason", "return_attempted", "restocked", "refund_amount",
}

func orderRow(rows *sqlmock.Rows, id string, userID uint, status Status, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, userID, "300.00", "0.00", "300.00", "SAVE10", "30.00",
		"30.00", "0.00", "270.00", "270.00", "270.00", "0.00",
		string(status), "ONLINE", "COMPLETED", "gw_1", nil, now,
		false, nil, nil, nil,
		3, now, now,
	)
}

func itemRow(rows *sqlmock.Rows, id, orderID string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, orderID, "p-"+id, "Widget", 1, "100.00", "100.00", "100.00",
		"ACTIVE", "PENDING", "", nil, "", nil,
		nil, "", false, false, "0.00",
	)
}

func TestRepository_GetForUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectQuery(`SELECT .* FROM orders WHERE id = \$1 FOR UPDATE`).
			WithArgs("ORD-1").
			WillReturnRows(orderRow(sqlmock.NewRows(orderCols), "ORD-1", 7, StatusPending, now))

		items := sqlmock.NewRows(itemCols)
		itemRow(items, "i1", "ORD-1", now)
		itemRow(items, "i2", "ORD-1", now)
		itemRow(items, "i3", "ORD-1", now)
		mock.ExpectQuery(`FROM order_items\s+WHERE order_id = ANY\(\$1\)`).
			WithArgs(pq.Array([]string{"ORD-1"})).
			WillReturnRows(items)

		mock.ExpectQuery(`FROM order_timeline`).
			WithArgs("ORD-1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "description", "created_at"}).
				AddRow("PENDING", "Order placed", now))

		o, err := NewRepository().GetForUpdate(ctx, conn, "ORD-1")
		require.NoError(t, err)

		assert.Equal(t, uint(7), o.UserID)
		assert.Equal(t, StatusPending, o.Status)
		assert.Equal(t, "SAVE10", o.CouponCode)
		assert.True(t, decimal.NewFromInt(270).Equal(o.FinalAmount))
		assert.Equal(t, PaymentOnline, o.Payment.Method)
		assert.Equal(t, "gw_1", o.Payment.GatewayOrderID)
		assert.Empty(t, o.Payment.GatewayPaymentID)
		require.NotNil(t, o.Payment.PaidAt)
		assert.Len(t, o.Items, 3)
		assert.Equal(t, ItemActive, o.Items[0].Status)
		assert.Nil(t, o.Items[0].CancelledAt)
		assert.Len(t, o.Timeline, 1)
		assert.Equal(t, 1, o.persistedTimeline)
		assert.Equal(t, 3, o.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err = NewRepository().GetForUpdate(ctx, conn, "missing")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("GetByID does not lock", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectQuery(`FROM orders WHERE id = \$1$`).
			WithArgs("ORD-1").
			WillReturnError(sql.ErrNoRows)

		_, err = NewRepository().GetByID(ctx, conn, "ORD-1")
		assert.ErrorIs(t, err, ErrOrderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_Save(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	newOrder := func() *Order {
		o := &Order{
			ID:      "ORD-1",
			Status:  StatusPartiallyCancelled,
			Version: 3,
			Items: []Item{
				{ID: "i1", Status: ItemCancelled, Fulfillment: FulfillmentPending, Restocked: true},
				{ID: "i2", Status: ItemActive, Fulfillment: FulfillmentPending},
			},
			Timeline: []TimelineEntry{
				{Status: StatusPending, At: now.Add(-time.Hour), Description: "Order placed"},
				{Status: StatusPartiallyCancelled, At: now, Description: "Item cancelled"},
			},
			persistedTimeline: 1,
		}
		return o
	}

	t.Run("Success", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		o := newOrder()

		mock.ExpectQuery(`UPDATE orders SET .* WHERE id = \$14 AND version = \$15`).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectExec(`UPDATE order_items SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE order_items SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_timeline`).
			WithArgs("ORD-1", StatusPartiallyCancelled, "Item cancelled", now).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err = NewRepository().Save(ctx, conn, o)
		require.NoError(t, err)
		assert.Equal(t, 4, o.Version)
		assert.Equal(t, 2, o.persistedTimeline)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("VersionConflict", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		o := newOrder()
		mock.ExpectQuery(`UPDATE orders SET`).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

		err = NewRepository().Save(ctx, conn, o)
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.Equal(t, 3, o.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ItemUpdateError", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectQuery(`UPDATE orders SET`).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectExec(`UPDATE order_items SET`).
			WillReturnError(errors.New("db error"))

		err = NewRepository().Save(ctx, conn, newOrder())
		assert.ErrorContains(t, err, "update order item")
	})
}

func TestRepository_Create(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	o := &Order{
		ID:      "ORD-1",
		UserID:  7,
		Status:  StatusPending,
		Payment: Payment{Method: PaymentCOD, Status: PaymentPending},
		Items: []Item{
			{ID: "i1", ProductID: "p1", Quantity: 2, Status: ItemActive, Fulfillment: FulfillmentPending},
		},
		Timeline: []TimelineEntry{{Status: StatusPending, At: now, Description: "Order placed"}},
	}

	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "created_at", "updated_at"}).AddRow(1, now, now))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs("i1", "ORD-1", 0, "p1", "", 2,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), ItemActive, FulfillmentPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_timeline`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewRepository().Create(ctx, conn, o))
	assert.Equal(t, 1, o.Version)
	assert.Equal(t, now, o.CreatedAt)
	assert.Equal(t, 1, o.persistedTimeline)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Customer scoped with filters", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		f := ListFilter{UserID: 7, Status: StatusDelivered, Search: "ORD", SortBy: SortFinalAmount, SortDir: "asc", Limit: 500}

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders o WHERE 1=1 AND o.user_id = \$1 AND \(o.id ILIKE \$2 OR o.status ILIKE \$2\) AND o.status = \$3`).
			WithArgs(uint(7), "%ORD%", StatusDelivered).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		rows := sqlmock.NewRows(orderCols)
		orderRow(rows, "ORD-1", 7, StatusDelivered, now)
		orderRow(rows, "ORD-2", 7, StatusDelivered, now)
		mock.ExpectQuery(`FROM orders o WHERE 1=1 .* ORDER BY o.final_amount ASC LIMIT \$4 OFFSET \$5`).
			WithArgs(uint(7), "%ORD%", StatusDelivered, int32(100), int32(0)).
			WillReturnRows(rows)

		items := sqlmock.NewRows(itemCols)
		itemRow(items, "a", "ORD-1", now)
		itemRow(items, "b", "ORD-2", now)
		itemRow(items, "c", "ORD-2", now)
		mock.ExpectQuery(`FROM order_items`).
			WithArgs(pq.Array([]string{"ORD-1", "ORD-2"})).
			WillReturnRows(items)

		orders, total, err := NewRepository().List(ctx, conn, f)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, orders, 2)
		assert.Len(t, orders[0].Items, 1)
		assert.Len(t, orders[1].Items, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Empty page skips items", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders o WHERE 1=1`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`ORDER BY o.created_at DESC LIMIT \$1 OFFSET \$2`).
			WithArgs(int32(20), int32(20)).
			WillReturnRows(sqlmock.NewRows(orderCols))

		orders, total, err := NewRepository().List(ctx, conn, ListFilter{Page: 2})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, orders)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "o.id, o.user_id", prefixed("o.", "\n\tid, user_id"))
}
