package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/BoiPrint/config"
	"github.com/BearBump/BoiPrint/internal/broker/kafka"
	"github.com/BearBump/BoiPrint/internal/cache/rediscache"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/courierconf"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/session"
	"github.com/BearBump/BoiPrint/internal/logger"
	"github.com/BearBump/BoiPrint/internal/services/orders"
	"github.com/BearBump/BoiPrint/internal/storage/memorders"
	"github.com/BearBump/BoiPrint/internal/storage/pgorders"
	"github.com/joho/godotenv"
)

type store interface {
	orders.Repository
	Ping(ctx context.Context) error
}

type boiPrintApp struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opts      apiOpts
	svc       *orders.Service
	sess      *session.Manager
	consumers []consumerLoop
	closers   []func()
}

func mustBootstrapBoiPrintAPI() *boiPrintApp {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		panic(fmt.Sprintf("ошибка чтения .env, %v", err))
	}
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	app := &boiPrintApp{}
	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	ready := map[string]func(ctx context.Context) error{}

	st := mustOpenStore(cfg.Database, 60*time.Second)
	ready["store"] = st.Ping
	if pg, ok := st.(*pgorders.Storage); ok {
		app.closers = append(app.closers, pg.Close)
	}

	client := courierconf.Client(cfg.Pathao)
	app.sess = courierconf.Session(client, cfg.Pathao)

	app.svc = orders.New(st, client, app.sess).WithSettings(serviceSettings(cfg))

	if addr := cfg.Redis.Address(); addr != "" {
		rc := rediscache.New(addr)
		app.svc.WithCache(rc)
		ready["redis"] = rc.Ping
		app.closers = append(app.closers, func() { _ = rc.Close() })
	} else {
		slog.Warn("redis is not configured, courier location lists are not cached")
	}

	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers)
		app.svc.WithPublisher(producer)
		app.closers = append(app.closers, func() { _ = producer.Close() })

		group := cfg.Kafka.Group("boiprint-api")
		statusConsumer := kafka.NewConsumer(brokers, cfg.Kafka.StatusUpdatedTopic(), group)
		reconcileConsumer := kafka.NewConsumer(brokers, cfg.Kafka.ReconcileTopic(), group)
		app.closers = append(app.closers,
			func() { _ = statusConsumer.Close() },
			func() { _ = reconcileConsumer.Close() },
		)
		app.consumers = []consumerLoop{
			{name: cfg.Kafka.StatusUpdatedTopic(), run: func(ctx context.Context) error {
				return kafka.ConsumeJSON(ctx, statusConsumer, app.svc.ApplyCourierStatus)
			}},
			{name: cfg.Kafka.ReconcileTopic(), run: func(ctx context.Context) error {
				return kafka.ConsumeJSON(ctx, reconcileConsumer, app.svc.ApplyReconcile)
			}},
		}
	} else {
		slog.Warn("kafka is not configured, reconcile events and courier status updates are disabled")
	}

	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		if _, err := os.Stat("api/swagger.json"); err == nil {
			swaggerPath = "api/swagger.json"
		}
	}

	app.opts = apiOpts{
		httpAddr:    cfg.BoiPrint.ListenAddr(),
		swaggerPath: swaggerPath,
		ready:       ready,
	}
	return app
}

// mustOpenStore returns the Postgres store, or the in-memory one when no database is configured.
func mustOpenStore(db config.DatabaseConfig, wait time.Duration) store {
	connString := db.ConnString()
	if connString == "" {
		slog.Warn("database is not configured, orders are kept in memory")
		return memorders.New()
	}
	return mustOpenPostgresWithRetry(connString, wait)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgorders.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgorders.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func serviceSettings(cfg *config.Config) orders.Settings {
	return orders.Settings{
		StoreID:         cfg.Pathao.StoreID,
		DispatchLease:   time.Duration(cfg.BoiPrint.DispatchLeaseSeconds) * time.Second,
		LocationTTL:     time.Duration(cfg.BoiPrint.LocationCacheTTLSeconds) * time.Second,
		ConfirmAttempts: cfg.BoiPrint.ConfirmAttempts,
		ConfirmBackoff:  time.Duration(cfg.BoiPrint.ConfirmBackoffMillis) * time.Millisecond,
		FirstSyncDelay:  time.Duration(cfg.BoiPrint.FirstSyncDelaySeconds) * time.Second,
		ReconcileTopic:  cfg.Kafka.ReconcileTopic(),
	}
}

func (a *boiPrintApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *boiPrintApp) Run() error {
	// Первый запрос после старта не должен платить за выпуск токена.
	prewarmCtx, cancel := context.WithTimeout(a.ctx, 15*time.Second)
	if err := a.sess.Prewarm(prewarmCtx); err != nil {
		slog.Warn("courier token prewarm failed, first courier call will retry", "error", err.Error())
	}
	cancel()

	return runBoiPrintAPI(a.ctx, a.opts, a.svc, a.sess, a.consumers)
}
