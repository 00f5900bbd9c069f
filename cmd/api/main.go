package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/canteen-backend/api/routes"
	"github.com/angelmondragon/canteen-backend/internal/accounts"
	"github.com/angelmondragon/canteen-backend/internal/audit"
	"github.com/angelmondragon/canteen-backend/internal/balance"
	"github.com/angelmondragon/canteen-backend/internal/inventory"
	"github.com/angelmondragon/canteen-backend/internal/ledger"
	"github.com/angelmondragon/canteen-backend/internal/orders"
	"github.com/angelmondragon/canteen-backend/internal/placement"
	product "github.com/angelmondragon/canteen-backend/internal/products"
	"github.com/angelmondragon/canteen-backend/internal/refunds"
	"github.com/angelmondragon/canteen-backend/internal/uow"
	"github.com/angelmondragon/canteen-backend/pkg/config"
	"github.com/angelmondragon/canteen-backend/pkg/db"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	"github.com/angelmondragon/canteen-backend/pkg/metrics"
	"github.com/angelmondragon/canteen-backend/pkg/migrate"
	"github.com/angelmondragon/canteen-backend/pkg/outbox"
	"github.com/angelmondragon/canteen-backend/pkg/pickup"
	"github.com/angelmondragon/canteen-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orderMetrics := metrics.NewOrderMetrics(registry)

	deps, err := buildDeps(cfg, logg, dbClient, orderMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}
	deps.DB = dbClient
	deps.Redis = redisClient
	deps.Idempotency = redisClient
	deps.Gatherer = registry

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"addr":    addr,
		"tx_mode": cfg.Orders.Mode(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, orderMetrics *metrics.OrderMetrics) (routes.Deps, error) {
	mode, err := uow.ParseMode(cfg.Orders.Mode())
	if err != nil {
		return routes.Deps{}, err
	}
	units, err := uow.NewManager(uow.ManagerParams{
		Runner:  dbClient,
		Mode:    mode,
		Logger:  logg,
		Metrics: orderMetrics,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	conn := dbClient.DB()
	auditor := audit.NewService(logg)
	events := outbox.NewService(outbox.NewRepository(conn), logg)
	entries, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return routes.Deps{}, err
	}
	stock, err := inventory.NewLedger(inventory.LedgerParams{DB: conn, Audit: auditor, Logger: logg})
	if err != nil {
		return routes.Deps{}, err
	}
	balances, err := balance.NewLedger(balance.LedgerParams{DB: conn, Entries: entries, Events: events})
	if err != nil {
		return routes.Deps{}, err
	}
	orderRepo := orders.NewRepository(conn)

	placementSvc, err := placement.NewService(placement.ServiceParams{
		Units:     units,
		Products:  product.NewRepository(conn),
		Orders:    orderRepo,
		Inventory: stock,
		Balances:  balances,
		Entries:   entries,
		Audit:     auditor,
		Events:    events,
		Codes:     pickup.NewGenerator(cfg.Orders.PickupCodePrefix, cfg.Orders.PickupCodeLength),
		QR:        pickup.PNGEncoder{},
		Metrics:   orderMetrics,
		Logger:    logg,
		Config: placement.Config{
			AutoPrepareCategories: cfg.Orders.AutoPrepareCategories,
			ExternalCodeTTL:       cfg.Orders.ExternalCodeTTL,
		},
	})
	if err != nil {
		return routes.Deps{}, err
	}

	lifecycle, err := orders.NewService(orderRepo, units, auditor, events)
	if err != nil {
		return routes.Deps{}, err
	}

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Units:     units,
		Orders:    orderRepo,
		Inventory: stock,
		Balances:  balances,
		Audit:     auditor,
		Events:    events,
		Metrics:   orderMetrics,
		Logger:    logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	accountSvc, err := accounts.NewService(accounts.ServiceParams{
		Units:    units,
		Balances: balances,
		Audit:    auditor,
		Logger:   logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Config:    cfg,
		Logger:    logg,
		Orders:    placementSvc,
		Lifecycle: lifecycle,
		External:  placementSvc,
		Refunds:   refundSvc,
		Accounts:  accountSvc,
		Inventory: stock,
	}, nil
}
