package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-be/internal/db"

	"github.com/shopspring/decimal"
)

type Repository interface {
	GetByCode(ctx context.Context, q db.DBTX, code string) (*Coupon, error)
	CountUserUsage(ctx context.Context, q db.DBTX, code string, userID uint) (int, error)
	RecordUsage(ctx context.Context, q db.DBTX, code string, userID uint, orderID string) error
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *repository) GetByCode(ctx context.Context, q db.DBTX, code string) (*Coupon, error) {
	var (
		c         Coupon
		maxDisc   decimal.NullDecimal
		expiresAt sql.NullTime
	)

	err := q.QueryRowContext(ctx, `
		SELECT code, discount_type, value, min_purchase, max_discount,
		       usage_limit, per_user_limit, used_count, expires_at, active
		FROM coupons
		WHERE code = $1
	`, NormalizeCode(code)).Scan(
		&c.Code, &c.DiscountType, &c.Value, &c.MinPurchase, &maxDisc,
		&c.UsageLimit, &c.PerUserLimit, &c.UsedCount, &expiresAt, &c.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}

	if maxDisc.Valid {
		c.MaxDiscount = maxDisc.Decimal
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

func (r *repository) CountUserUsage(ctx context.Context, q db.DBTX, code string, userID uint) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM coupon_usages WHERE code = $1 AND user_id = $2
	`, NormalizeCode(code), userID).Scan(&n)
	return n, err
}

// RecordUsage bumps the global counter and logs the redemption. The counter
// update is guarded so concurrent redemptions cannot exceed the limit.
func (r *repository) RecordUsage(ctx context.Context, q db.DBTX, code string, userID uint, orderID string) error {
	code = NormalizeCode(code)

	res, err := q.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)
	`, code)
	if err != nil {
		return fmt.Errorf("record coupon usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUsageLimitReached
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO coupon_usages (code, user_id, order_id, used_at)
		VALUES ($1, $2, $3, $4)
	`, code, userID, orderID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert coupon usage: %w", err)
	}
	return nil
}
