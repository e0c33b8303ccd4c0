package wallet

import (
	"context"
	"database/sql"

	"storefront-be/internal/logger"
	"storefront-be/internal/utils"

	"go.uber.org/zap"
)

type Service interface {
	GetWallet(ctx context.Context, page, limit int32) (*Wallet, error)
}

type service struct {
	db   *sql.DB
	repo Repository
}

func NewService(db *sql.DB, repo Repository) Service {
	return &service{db: db, repo: repo}
}

// GetWallet returns the caller's wallet with one page of transactions.
func (s *service) GetWallet(ctx context.Context, page, limit int32) (*Wallet, error) {
	userID, ok := utils.GetUserIDFromContext(ctx)
	if !ok || userID == 0 {
		return nil, ErrUnauthorized
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "GetWallet"),
	)

	w, err := s.repo.GetOrCreate(ctx, s.db, userID)
	if err != nil {
		log.Error("failed to load wallet", zap.Error(err))
		return nil, err
	}

	txs, err := s.repo.Transactions(ctx, s.db, userID, limit, (page-1)*limit)
	if err != nil {
		log.Error("failed to load transactions", zap.Error(err))
		return nil, err
	}
	w.Transactions = txs

	return w, nil
}
