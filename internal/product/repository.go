package product

import (
	"context"
	"fmt"

	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	GetByIDs(ctx context.Context, q db.DBTX, ids []string) (map[string]*Product, error)
	DecrementStock(ctx context.Context, q db.DBTX, productID string, qty int) error
	IncrementStock(ctx context.Context, q db.DBTX, productID string, qty int) error
}

type repository struct{}

// NewRepository returns a stateless repository; the caller picks the
// connection or transaction per call.
func NewRepository() Repository {
	return &repository{}
}

func (r *repository) GetByIDs(ctx context.Context, q db.DBTX, ids []string) (map[string]*Product, error) {
	out := make(map[string]*Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, regular_price, quantity, product_offer, category_offer, status, updated_at
		FROM products
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.RegularPrice, &p.Quantity,
			&p.ProductOffer, &p.CategoryOffer, &p.Status, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out[p.ID] = &p
	}

	return out, rows.Err()
}

// DecrementStock removes qty units only when enough stock is left.
func (r *repository) DecrementStock(ctx context.Context, q db.DBTX, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $1, updated_at = NOW()
		WHERE id = $2 AND quantity >= $1
	`, qty, productID)
	if err != nil {
		return fmt.Errorf("decrement stock %s: %w", productID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: product %s", ErrInsufficientStock, productID)
	}
	return nil
}

func (r *repository) IncrementStock(ctx context.Context, q db.DBTX, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + $1, updated_at = NOW()
		WHERE id = $2
	`, qty, productID)
	if err != nil {
		return fmt.Errorf("increment stock %s: %w", productID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	logger.FromCtx(ctx).Debug("stock restored",
		zap.String("layer", "repository"),
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
	)
	return nil
}
