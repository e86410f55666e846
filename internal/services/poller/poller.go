package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/BoiPrint/internal/broker/messages"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/metrics"
	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimDueSyncs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error)
}

type StatusClient interface {
	OrderInfo(ctx context.Context, token, consignmentID string) (courier.OrderInfo, error)
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Producer interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

var errRateLimited = errors.New("courier rate limit reached")

type Poller struct {
	repo     Repository
	client   StatusClient
	tokens   TokenSource
	producer Producer
	rl       RateLimiter

	topic string

	planner *Planner
	now     func() time.Time

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	publishAttempts    int
	publishBackoff     time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	totalSkipped        atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, client StatusClient, tokens TokenSource, producer Producer, rl RateLimiter) *Poller {
	return &Poller{
		repo:               repo,
		client:             client,
		tokens:             tokens,
		producer:           producer,
		rl:                 rl,
		topic:              messages.TopicCourierStatusUpdated,
		planner:            DefaultPlanner(),
		now:                func() time.Time { return time.Now().UTC() },
		pollInterval:       30 * time.Second,
		batchSize:          50,
		concurrency:        4,
		lease:              5 * time.Minute,
		rateLimitPerMinute: 60,
		publishAttempts:    5,
		publishBackoff:     150 * time.Millisecond,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

func (p *Poller) WithTopic(topic string) *Poller {
	if topic != "" {
		p.topic = topic
	}
	return p
}

func (p *Poller) WithPublishRetry(attempts int, backoff time.Duration) *Poller {
	if attempts > 0 {
		p.publishAttempts = attempts
	}
	if backoff > 0 {
		p.publishBackoff = backoff
	}
	return p
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	if now != nil {
		p.now = now
	}
	return p
}

// Trigger forces an immediate sync cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	TotalSkipped   int64      `json:"totalSkipped"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalErrors:    p.totalErrors.Load(),
		TotalSkipped:   p.totalSkipped.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.RunOnce(ctx)
		case <-p.triggerCh:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch of due orders and checks each of them.
func (p *Poller) RunOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimDueSyncs(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due syncs", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, o := range items {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func(o *models.Order) {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			err := p.processOne(ctx, o)
			switch {
			case err == nil:
				p.totalProcessed.Add(1)
			case errors.Is(err, errRateLimited):
				p.totalSkipped.Add(1)
				metrics.StatusSyncs.WithLabelValues("rate_limited").Inc()
			default:
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("sync courier status", "order_id", o.ID, "error", err.Error())
			}
		}(o)
	}
	wg.Wait()
}

func (p *Poller) processOne(ctx context.Context, o *models.Order) error {
	if o.CourierOrderID == nil || *o.CourierOrderID == "" {
		return errors.Errorf("order %s has no courier order id", o.ID)
	}
	now := p.now()

	if p.rl != nil && p.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:courier:pathao:%s", now.Format("200601021504"))
		allowed, n, err := p.rl.Allow(ctx, minuteKey, p.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return errors.Wrap(err, "rate limit")
		}
		if !allowed {
			// Лимит на минуту исчерпан: заказ вернётся в работу, когда истечёт lease.
			slog.Warn("courier rate limit exceeded", "order_id", o.ID, "count", n)
			return errRateLimited
		}
	}

	// Без токена проверять нечего; ошибка не относится к конкретному заказу, поэтому backoff не двигаем.
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "courier token")
	}

	started := time.Now()
	info, err := p.client.OrderInfo(ctx, token, *o.CourierOrderID)
	metrics.CourierLatency.WithLabelValues("order_info").Observe(time.Since(started).Seconds())

	msg := messages.CourierStatusUpdated{
		OrderID:        o.ID,
		CourierOrderID: *o.CourierOrderID,
		CheckedAt:      now,
	}
	if err != nil {
		e := err.Error()
		msg.Error = &e
		msg.NextSyncAt = now.Add(p.planner.BackoffDelay(o.SyncFailCount + 1))
		metrics.StatusSyncs.WithLabelValues("error").Inc()
	} else {
		msg.CourierStatus = info.OrderStatusSlug
		if msg.CourierStatus == "" {
			msg.CourierStatus = info.OrderStatus
		}
		msg.StatusAt = info.UpdatedAt
		if d, ok := p.planner.NextSyncDelay(msg.CourierStatus); ok {
			msg.NextSyncAt = now.Add(d)
		}
		metrics.StatusSyncs.WithLabelValues("ok").Inc()
	}

	return p.publish(ctx, o.ID, msg)
}

// Kafka может быть не готова сразу после старта docker compose, поэтому публикуем с небольшим retry.
func (p *Poller) publish(ctx context.Context, key string, msg messages.CourierStatusUpdated) error {
	var pubErr error
	for i := 0; i < p.publishAttempts; i++ {
		if pubErr = p.producer.PublishJSON(ctx, p.topic, key, msg); pubErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "publish status")
		case <-time.After(time.Duration(i+1) * p.publishBackoff):
		}
	}
	return errors.Wrap(pubErr, "publish status")
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}
