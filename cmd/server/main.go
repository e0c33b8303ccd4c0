package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-be/internal/config"
	"storefront-be/internal/coupon"
	"storefront-be/internal/db"
	"storefront-be/internal/events"
	"storefront-be/internal/idempotency"
	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"
	"storefront-be/internal/middleware"
	"storefront-be/internal/order"
	"storefront-be/internal/payment/webhook"
	"storefront-be/internal/product"
	"storefront-be/internal/telemetry"
	"storefront-be/internal/transport"
	"storefront-be/internal/wallet"

	"go.uber.org/zap"
)

const (
	serviceName     = "storefront-be"
	serviceVersion  = "1.0.0"
	shutdownTimeout = 10 * time.Second
)

var (
	initDBFunc      = db.InitDB
	startServerFunc = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Fatal("server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	database := initDBFunc(cfg)
	defer database.Close()

	handler, cleanup := newServer(ctx, cfg, database)
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- startServerFunc(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// newServer wires repositories, services and the router. The returned
// cleanup closes the broker and cache clients.
func newServer(ctx context.Context, cfg *config.Config, database *sql.DB) (http.Handler, func()) {
	log := logger.L()
	m := metrics.New()

	publisher, err := events.New(cfg.KafkaBrokers, cfg.KafkaTopic)
	if errors.Is(err, events.ErrNoBrokers) {
		log.Warn("no kafka brokers configured, lifecycle events are dropped")
	}

	closers := []func() error{publisher.Close}

	var store idempotency.Store
	if cfg.RedisAddr != "" {
		client := idempotency.NewRedisClient(cfg.RedisAddr)
		store = idempotency.NewRedisStore(client, serviceName, idempotency.DefaultTTL)
		closers = append(closers, client.Close)
	} else {
		log.Warn("no redis configured, idempotency keys are ignored")
	}

	engine := order.NewEngine(
		order.ParseCouponPolicy(cfg.CouponPolicy),
		time.Duration(cfg.ReturnWindowDays)*24*time.Hour,
	)

	walletRepo := wallet.NewRepository()

	orderSvc := order.NewService(order.Deps{
		Reader:   database,
		Tx:       db.NewTxRunner(database),
		Repo:     order.NewRepository(),
		Products: product.NewRepository(),
		Wallets:  walletRepo,
		Coupons:  coupon.NewRepository(),
		Engine:   engine,
		Pricing: order.PricingRules{
			FreeShippingThreshold: cfg.FreeShippingThreshold,
			ShippingCharge:        cfg.ShippingCharge,
		},
		Idempotency: store,
		Publisher:   publisher,
		Metrics:     m,
	})

	router := transport.NewRouter(transport.RouterConfig{
		JWTSecret: cfg.JWTSecret,
		Orders:    orderSvc,
		Wallets:   wallet.NewService(database, walletRepo),
		Payments:  webhook.NewHandler(orderSvc, cfg.WebhookToken),
		Metrics:   m.Handler(),
		Limiter:   middleware.NewRateLimiter(ctx),
	})

	log.Info("services wired",
		zap.String("coupon_policy", string(engine.Policy())),
		zap.Int("return_window_days", cfg.ReturnWindowDays),
	)

	return router, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("close failed", zap.Error(err))
			}
		}
	}
}
