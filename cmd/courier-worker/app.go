package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/BoiPrint/config"
	"github.com/BearBump/BoiPrint/internal/broker/kafka"
	"github.com/BearBump/BoiPrint/internal/cache/rediscache"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/courierconf"
	"github.com/BearBump/BoiPrint/internal/services/poller"
	"github.com/BearBump/BoiPrint/internal/storage/pgorders"
	"github.com/pkg/errors"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo poller.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) (poller.Producer, error)
	newRateLimiter   func(cfg *config.Config) poller.RateLimiter
	newCourierClient func(cfg *config.Config) courier.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (poller.Repository, func(), error) {
			connString := cfg.Database.ConnString()
			if connString == "" {
				return nil, nil, errors.New("courier-worker needs a database: set database.* or DATABASE_URL")
			}
			st, err := pgorders.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (poller.Producer, error) {
			brokers := cfg.Kafka.BrokerList()
			if len(brokers) == 0 {
				return nil, errors.New("courier-worker needs kafka: set kafka.* or KAFKA_BROKERS")
			}
			return kafka.NewProducer(brokers), nil
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			addr := cfg.Redis.Address()
			if addr == "" {
				return nil
			}
			return rediscache.NewRateLimiter(addr)
		},
		newCourierClient: func(cfg *config.Config) courier.Client {
			return courierconf.Client(cfg.Pathao)
		},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func plannerConfig(cfg *config.Config) poller.PlannerConfig {
	w := cfg.BoiPrint
	return poller.PlannerConfig{
		InTransitMinDelay: seconds(w.WorkerNextSyncInTransitMinSeconds),
		InTransitMaxDelay: seconds(w.WorkerNextSyncInTransitMaxSeconds),
		UnknownDelay:      seconds(w.WorkerNextSyncUnknownSeconds),
		Backoff1:          seconds(w.WorkerBackoff1Seconds),
		Backoff2:          seconds(w.WorkerBackoff2Seconds),
		Backoff3:          seconds(w.WorkerBackoff3Seconds),
		Backoff4:          seconds(w.WorkerBackoff4Seconds),
	}
}

// buildPoller wires the poller; the returned close function releases storage and producer.
func buildPoller(cfg *config.Config, f workerFactories) (*poller.Poller, func(), error) {
	repo, closeRepo, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "storage")
	}
	producer, err := f.newProducer(cfg)
	if err != nil {
		if closeRepo != nil {
			closeRepo()
		}
		return nil, nil, errors.Wrap(err, "producer")
	}

	client := f.newCourierClient(cfg)
	tokens := courierconf.Session(client, cfg.Pathao)

	w := cfg.BoiPrint
	// Без явных значений WithSettings оставляет дефолты поллера.
	p := poller.New(repo, client, tokens, producer, f.newRateLimiter(cfg)).
		WithSettings(seconds(w.WorkerPollIntervalSeconds), w.WorkerBatchSize, w.WorkerConcurrency,
			seconds(w.WorkerLeaseSeconds), int64(w.WorkerRateLimitPerMinute)).
		WithPlanner(plannerConfig(cfg)).
		WithTopic(cfg.Kafka.StatusUpdatedTopic())

	closeFn := func() {
		if c, ok := producer.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		if closeRepo != nil {
			closeRepo()
		}
	}
	return p, closeFn, nil
}

type workerOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

// RunCourierWorker runs the status sync loop and the worker HTTP server until ctx is done.
func RunCourierWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	p, closeFn, err := buildPoller(cfg, f)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    opts.httpAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			poller:      p,
			cfg:         cfg,
		})
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-httpErr:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("worker http: %w", err)
		}
		return <-runErr
	}
}
