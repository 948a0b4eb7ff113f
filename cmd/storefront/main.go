package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/cart"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/reconcile"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/server"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/service"

	_ "github.com/lib/pq"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logger := logging.NewLoggerV2("storefront-service")

	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatal("Failed to load configuration", logging.Fields{"error": err.Error()})
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Fatal("Failed to configure logging", logging.Fields{"error": err.Error()})
	}
	logger = logging.NewLoggerV2("storefront-service")

	m := metrics.New()
	store := clients.NewHTTPItemStore(cfg.ItemStore, logging.NewLoggerV2("item-store"), m)

	var mailer clients.NotificationSender
	if cfg.SMTP.Enabled() {
		mailer = clients.NewSMTPMailer(cfg.SMTP, logging.NewLoggerV2("mailer"))
	} else {
		logger.Warn("SMTP not configured, notifications will only be logged")
		mailer = clients.NewLogMailer(logging.NewLoggerV2("mailer"))
	}

	checks := map[string]handlers.ReadinessCheck{}

	var ledger repository.Ledger = repository.NoopLedger{}
	if cfg.Features.EnableLedger {
		db, err := initDatabase(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", logging.Fields{"error": err.Error()})
		}
		defer db.Close()
		ledger = repository.NewPostgresLedger(db, logging.NewLoggerV2("ledger"))
		checks["postgres"] = db.PingContext
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Features.EnableOrderEvents {
		publisher = events.NewKafkaPublisher(cfg.Kafka, logging.NewLoggerV2("events"))
	}
	defer publisher.Close()

	var cartService *cart.Service
	var broker *cart.Broker
	if cfg.Features.EnableCart {
		broker = cart.NewBroker()
		defer broker.Close()

		cartStore, rdb := initCartStore(cfg, logger)
		if rdb != nil {
			defer rdb.Close()
			checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		}
		cartService = cart.NewService(cartStore, broker, logging.NewLoggerV2("cart"))
	}

	orderService := service.NewOrderService(store, mailer, ledger, publisher, m, cfg)

	h := handlers.NewHandlers(orderService, cartService, cfg)
	for name, check := range checks {
		h.AddReadinessCheck(name, check)
	}

	srv := server.New(h, m, cfg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var consumer *events.KafkaConsumer
	if cfg.Features.EnableReconciliation {
		reconciler := reconcile.NewReconciler(store, ledger, cfg.Reconcile, m, logging.NewLoggerV2("reconciler"))
		go reconciler.Run(ctx)

		if cfg.Features.EnableOrderEvents {
			consumer = events.NewKafkaConsumer(cfg.Kafka, reconciler, logging.NewLoggerV2("events"))
			go func() {
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Event consumer failed", logging.Fields{"error": err.Error()})
				}
			}()
		}
	}

	go func() {
		logger.Info("Server starting", logging.Fields{
			"port":                  cfg.Server.Port,
			"enable_order_events":   cfg.Features.EnableOrderEvents,
			"enable_ledger":         cfg.Features.EnableLedger,
			"enable_cart":           cfg.Features.EnableCart,
			"enable_reconciliation": cfg.Features.EnableReconciliation,
		})
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if consumer != nil {
		consumer.Stop()
	}
	stop()

	// Open SSE streams end once the broker closes their channels.
	if broker != nil {
		broker.Close()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	orderService.Wait()

	logger.Info("Server exited")
}

func initDatabase(cfg *config.Config, logger *logging.LoggerV2) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := repository.Migrate(db.DB, cfg.Database.Name, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})

	return db, nil
}

// initCartStore prefers Redis and falls back to process memory when it is unreachable.
func initCartStore(cfg *config.Config, logger *logging.LoggerV2) (repository.CartStore, *redis.Client) {
	rdb := repository.NewRedisClient(cfg.Redis)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, carts are kept in memory", logging.Fields{
			"addr":  fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			"error": err.Error(),
		})
		rdb.Close()
		return cart.NewMemoryStore(), nil
	}

	return repository.NewRedisCartStore(rdb, cfg.Redis.TTL, logging.NewLoggerV2("cart-store")), rdb
}
