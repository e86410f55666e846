package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	calls int
	items []*models.Order
	err   error
}

func (r *fakeRepo) ClaimDueSyncs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error) {
	r.calls++
	items := r.items
	r.items = nil
	return items, r.err
}

func TestPoller_Run_StopsOnContextCancel(t *testing.T) {
	repo := &fakeRepo{}
	p := New(repo, &fakeStatusClient{}, staticToken{}, &fakeProducer{}, nil).
		WithSettings(5*time.Millisecond, 1, 1, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, repo.calls, 1)
}

func TestPoller_RunOnce_CountsOutcomes(t *testing.T) {
	repo := &fakeRepo{items: []*models.Order{confirmedOrder("a", 0), confirmedOrder("b", 0), {ID: "broken"}}}
	fp := &fakeProducer{}
	p := New(repo, &fakeStatusClient{info: courier.OrderInfo{OrderStatusSlug: "In_Transit"}}, staticToken{token: "tok"}, fp, nil).
		WithSettings(time.Hour, 10, 2, time.Minute, 0)

	p.RunOnce(context.Background())

	st := p.Stats()
	require.Equal(t, int64(3), st.TotalClaimed)
	require.Equal(t, int64(2), st.TotalProcessed)
	require.Equal(t, int64(1), st.TotalErrors)
	require.Zero(t, st.InFlight)
	require.Contains(t, st.LastError, "broken")
	require.NotNil(t, st.LastCycleAt)
	require.Len(t, fp.msgs, 2)
}

func TestPoller_RunOnce_ClaimError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	p := New(repo, &fakeStatusClient{}, staticToken{}, &fakeProducer{}, nil)

	p.RunOnce(context.Background())
	require.Equal(t, "db down", p.Stats().LastError)
}

func TestPoller_Trigger_RunsCycle(t *testing.T) {
	repo := &fakeRepo{}
	p := New(repo, &fakeStatusClient{}, staticToken{}, &fakeProducer{}, nil).
		WithSettings(time.Hour, 1, 1, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	p.Trigger()
	require.Eventually(t, func() bool { return p.Stats().LastCycleAt != nil }, time.Second, 5*time.Millisecond)
	require.NotNil(t, p.Stats().LastTriggerAt)
	cancel()
	<-done
}
