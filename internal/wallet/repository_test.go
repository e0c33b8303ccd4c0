package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Credit(t *testing.T) {
	ctx := context.Background()
	entry := Entry{
		UserID:    7,
		Amount:    decimal.NewFromInt(90),
		OrderID:   "ORD-20260101-ABCDEF",
		Reference: "cancel:item:i1",
		Reason:    "refund",
	}

	t.Run("Success", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectExec(`INSERT INTO wallet_transactions .* ON CONFLICT \(order_id, reference\) DO NOTHING`).
			WithArgs(sqlmock.AnyArg(), uint(7), TypeCredit, entry.Amount, "refund", entry.OrderID, entry.Reference).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO wallets .* DO UPDATE SET balance = wallets.balance \+ EXCLUDED.balance`).
			WithArgs(uint(7), entry.Amount).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := NewRepository().Credit(ctx, conn, entry)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyCredited", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectExec(`INSERT INTO wallet_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		applied, err := NewRepository().Credit(ctx, conn, entry)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		e := entry
		e.Amount = decimal.Zero
		_, err := NewRepository().Credit(ctx, nil, e)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("BalanceUpdateError", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectExec(`INSERT INTO wallet_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO wallets`).
			WillReturnError(errors.New("db error"))

		_, err = NewRepository().Credit(ctx, conn, entry)
		assert.Error(t, err)
	})
}

func TestRepository_Debit(t *testing.T) {
	ctx := context.Background()
	entry := Entry{UserID: 3, Amount: decimal.NewFromInt(250), OrderID: "ORD-1", Reference: "placement", Reason: "order payment"}

	t.Run("Success", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectExec(`UPDATE wallets SET balance = balance - \$1`).
			WithArgs(entry.Amount, uint(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO wallet_transactions`).
			WithArgs(sqlmock.AnyArg(), uint(3), TypeDebit, entry.Amount, entry.Reason, "ORD-1", "placement").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, NewRepository().Debit(ctx, conn, entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectExec(`UPDATE wallets`).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, NewRepository().Debit(ctx, conn, entry), ErrInsufficientBalance)
	})
}

func TestRepository_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	now := time.Now()
	mock.ExpectExec(`INSERT INTO wallets .* ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs(uint(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT user_id, balance, updated_at FROM wallets`).
		WithArgs(uint(5)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "updated_at"}).AddRow(5, "120.50", now))

	w, err := NewRepository().GetOrCreate(ctx, conn, 5)
	require.NoError(t, err)
	assert.Equal(t, uint(5), w.UserID)
	assert.Equal(t, "120.50", w.Balance.StringFixed(2))
}

func TestRepository_Transactions(t *testing.T) {
	ctx := context.Background()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM wallet_transactions WHERE user_id = \$1 ORDER BY created_at DESC`).
		WithArgs(uint(5), int32(20), int32(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "amount", "reason", "order_id", "reference", "created_at"}).
			AddRow("t1", 5, "credit", "90", "refund", "ORD-1", "cancel:order", now).
			AddRow("t2", 5, "debit", "40", "top-up reversal", nil, "manual", now))

	txs, err := NewRepository().Transactions(ctx, conn, 5, 20, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, TypeCredit, txs[0].Type)
	require.NotNil(t, txs[0].OrderID)
	assert.Equal(t, "ORD-1", *txs[0].OrderID)
	assert.Nil(t, txs[1].OrderID)
}
