package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/BoiPrint/internal/broker/messages"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu    sync.Mutex
	topic string
	key   string
	msgs  []messages.CourierStatusUpdated
	calls int
	errs  []error
}

func (p *fakeProducer) PublishJSON(ctx context.Context, topic, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return err
		}
	}
	p.topic, p.key = topic, key
	p.msgs = append(p.msgs, v.(messages.CourierStatusUpdated))
	return nil
}

type fakeRL struct {
	allowed bool
	count   int64
	err     error
	key     *string
}

func (r fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if r.key != nil {
		*r.key = key
	}
	return r.allowed, r.count, r.err
}

type fakeStatusClient struct {
	mu    sync.Mutex
	info  courier.OrderInfo
	err   error
	token string
	calls int
}

func (c *fakeStatusClient) OrderInfo(ctx context.Context, token, consignmentID string) (courier.OrderInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.token = token
	return c.info, c.err
}

type staticToken struct {
	token string
	err   error
}

func (s staticToken) Token(ctx context.Context) (string, error) { return s.token, s.err }

func confirmedOrder(id string, fails int32) *models.Order {
	cid := "C-" + id
	st := "Pickup_Requested"
	fee := 60.0
	return &models.Order{
		ID:             id,
		Status:         models.OrderStatusConfirmed,
		CourierOrderID: &cid,
		CourierStatus:  &st,
		DeliveryFee:    &fee,
		SyncFailCount:  fails,
	}
}

var fixedNow = time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

func newTestPoller(client StatusClient, tokens TokenSource, fp *fakeProducer, rl RateLimiter) *Poller {
	return New(nil, client, tokens, fp, rl).
		WithClock(func() time.Time { return fixedNow }).
		WithPublishRetry(3, time.Millisecond)
}

func TestPoller_processOne_okPublishes(t *testing.T) {
	updated := fixedNow.Add(-time.Hour)
	fc := &fakeStatusClient{info: courier.OrderInfo{OrderStatus: "In Transit", OrderStatusSlug: "In_Transit", UpdatedAt: &updated}}
	fp := &fakeProducer{}
	var key string
	p := newTestPoller(fc, staticToken{token: "tok"}, fp, fakeRL{allowed: true, key: &key})

	require.NoError(t, p.processOne(context.Background(), confirmedOrder("o1", 0)))
	require.Equal(t, "tok", fc.token)
	require.Equal(t, "rl:courier:pathao:202503011230", key)
	require.Equal(t, messages.TopicCourierStatusUpdated, fp.topic)
	require.Equal(t, "o1", fp.key)
	require.Len(t, fp.msgs, 1)

	msg := fp.msgs[0]
	require.Equal(t, "C-o1", msg.CourierOrderID)
	require.Equal(t, "In_Transit", msg.CourierStatus)
	require.Equal(t, &updated, msg.StatusAt)
	require.Nil(t, msg.Error)
	require.True(t, !msg.NextSyncAt.Before(fixedNow.Add(30*time.Minute)))
	require.True(t, !msg.NextSyncAt.After(fixedNow.Add(120*time.Minute)))
}

func TestPoller_processOne_finalStatusStopsSync(t *testing.T) {
	fc := &fakeStatusClient{info: courier.OrderInfo{OrderStatus: "Delivered"}}
	fp := &fakeProducer{}
	p := newTestPoller(fc, staticToken{token: "tok"}, fp, nil)

	require.NoError(t, p.processOne(context.Background(), confirmedOrder("o1", 0)))
	require.Len(t, fp.msgs, 1)
	require.Equal(t, "Delivered", fp.msgs[0].CourierStatus)
	require.True(t, fp.msgs[0].NextSyncAt.IsZero())
}

func TestPoller_processOne_errorBackoff(t *testing.T) {
	fc := &fakeStatusClient{err: errors.New("boom")}
	fp := &fakeProducer{}
	p := newTestPoller(fc, staticToken{token: "tok"}, fp, nil)

	require.NoError(t, p.processOne(context.Background(), confirmedOrder("o1", 2)))
	require.Len(t, fp.msgs, 1)
	require.NotNil(t, fp.msgs[0].Error)
	require.Equal(t, "boom", *fp.msgs[0].Error)
	require.Equal(t, fixedNow.Add(30*time.Minute), fp.msgs[0].NextSyncAt)
}

func TestPoller_processOne_rateLimitedSkips(t *testing.T) {
	fc := &fakeStatusClient{}
	fp := &fakeProducer{}
	p := newTestPoller(fc, staticToken{token: "tok"}, fp, fakeRL{allowed: false, count: 61})

	err := p.processOne(context.Background(), confirmedOrder("o1", 0))
	require.ErrorIs(t, err, errRateLimited)
	require.Zero(t, fc.calls)
	require.Zero(t, fp.calls)
}

func TestPoller_processOne_tokenErrorDoesNotPublish(t *testing.T) {
	fc := &fakeStatusClient{}
	fp := &fakeProducer{}
	p := newTestPoller(fc, staticToken{err: errors.New("auth down")}, fp, nil)

	err := p.processOne(context.Background(), confirmedOrder("o1", 0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth down")
	require.Zero(t, fc.calls)
	require.Zero(t, fp.calls)
}

func TestPoller_processOne_missingCourierID(t *testing.T) {
	p := newTestPoller(&fakeStatusClient{}, staticToken{token: "tok"}, &fakeProducer{}, nil)
	require.Error(t, p.processOne(context.Background(), &models.Order{ID: "o1"}))
}

func TestPoller_publish_retries(t *testing.T) {
	fc := &fakeStatusClient{info: courier.OrderInfo{OrderStatusSlug: "Picked"}}
	fp := &fakeProducer{errs: []error{errors.New("leader not available"), nil}}
	p := newTestPoller(fc, staticToken{token: "tok"}, fp, nil)

	require.NoError(t, p.processOne(context.Background(), confirmedOrder("o1", 0)))
	require.Equal(t, 2, fp.calls)
	require.Len(t, fp.msgs, 1)
}

func TestPoller_publish_givesUp(t *testing.T) {
	boom := errors.New("kafka down")
	fp := &fakeProducer{errs: []error{boom, boom, boom}}
	p := newTestPoller(&fakeStatusClient{}, staticToken{token: "tok"}, fp, nil)

	err := p.processOne(context.Background(), confirmedOrder("o1", 0))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, fp.calls)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(nil, &fakeStatusClient{}, staticToken{}, &fakeProducer{}, nil).
		WithSettings(5*time.Second, 7, 9, 11*time.Second, 13).
		WithTopic("custom")
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.batchSize)
	require.Equal(t, 9, p.concurrency)
	require.Equal(t, 11*time.Second, p.lease)
	require.Equal(t, int64(13), p.rateLimitPerMinute)
	require.Equal(t, "custom", p.topic)
}
