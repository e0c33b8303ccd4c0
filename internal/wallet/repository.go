package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Repository interface {
	GetOrCreate(ctx context.Context, q db.DBTX, userID uint) (*Wallet, error)
	// Credit reports false when the (order, reference) pair was already credited.
	Credit(ctx context.Context, q db.DBTX, e Entry) (bool, error)
	Debit(ctx context.Context, q db.DBTX, e Entry) error
	Transactions(ctx context.Context, q db.DBTX, userID uint, limit, offset int32) ([]Transaction, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) GetOrCreate(ctx context.Context, q db.DBTX, userID uint) (*Wallet, error) {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var w Wallet
	err := q.QueryRowContext(ctx, `
		SELECT user_id, balance, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) Credit(ctx context.Context, q db.DBTX, e Entry) (bool, error) {
	if !e.Amount.IsPositive() {
		return false, ErrInvalidAmount
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Credit"),
		zap.Uint("wallet_user_id", e.UserID),
		zap.String("order_id", e.OrderID),
		zap.String("reference", e.Reference),
	)

	res, err := q.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, user_id, type, amount, reason, order_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id, reference) DO NOTHING
	`, uuid.NewString(), e.UserID, TypeCredit, e.Amount, e.Reason, nullString(e.OrderID), e.Reference)
	if err != nil {
		log.Error("failed to insert credit", zap.Error(err))
		return false, fmt.Errorf("insert credit: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		log.Info("credit already applied")
		return false, nil
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()
	`, e.UserID, e.Amount); err != nil {
		log.Error("failed to update balance", zap.Error(err))
		return false, fmt.Errorf("update balance: %w", err)
	}

	log.Info("wallet credited", zap.String("amount", e.Amount.StringFixed(2)))
	return true, nil
}

func (r *repository) Debit(ctx context.Context, q db.DBTX, e Entry) error {
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	res, err := q.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance >= $1
	`, e.Amount, e.UserID)
	if err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientBalance
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, user_id, type, amount, reason, order_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), e.UserID, TypeDebit, e.Amount, e.Reason, nullString(e.OrderID), e.Reference); err != nil {
		return fmt.Errorf("insert debit: %w", err)
	}

	return nil
}

func (r *repository) Transactions(ctx context.Context, q db.DBTX, userID uint, limit, offset int32) ([]Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, type, amount, reason, order_id, reference, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t       Transaction
			orderID sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Reason, &orderID, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		if orderID.Valid {
			t.OrderID = &orderID.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
