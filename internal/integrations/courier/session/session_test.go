package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/BoiPrint/internal/apperr"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeIssuer struct {
	calls atomic.Int32
	ttl   time.Duration
	err   error
	gate  chan struct{}
}

func (f *fakeIssuer) IssueToken(ctx context.Context, req courier.TokenRequest) (courier.Token, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return courier.Token{}, f.err
	}
	return courier.Token{AccessToken: "tok-" + string(rune('0'+n)), ExpiresIn: f.ttl}, nil
}

func newManager(iss *fakeIssuer, clk *fakeClock) *Manager {
	return New(iss, courier.TokenRequest{ClientID: "cid"}, WithClock(clk.Now), WithSafetyMargin(time.Minute))
}

func TestToken_ReusesFreshCredential(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	iss := &fakeIssuer{ttl: time.Hour}
	m := newManager(iss, clk)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	clk.Advance(58 * time.Minute)
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
	require.EqualValues(t, 1, iss.calls.Load())
}

func TestToken_RenewsInsideSafetyMargin(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	iss := &fakeIssuer{ttl: time.Hour}
	m := newManager(iss, clk)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
	require.EqualValues(t, 2, iss.calls.Load())

	snap := m.Snapshot()
	require.Equal(t, StateValid, snap.State)
	require.NotNil(t, snap.ExpiresAt)
	require.GreaterOrEqual(t, snap.ExpiresAt.Sub(clk.Now()), time.Minute)
}

func TestToken_ConcurrentCallersShareOneRenewal(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	iss := &fakeIssuer{ttl: time.Hour, gate: make(chan struct{})}
	m := newManager(iss, clk)

	const callers = 16
	var wg sync.WaitGroup
	toks := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			toks[i], errs[i] = m.Token(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return iss.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(iss.gate)
	wg.Wait()

	require.EqualValues(t, 1, iss.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "tok-1", toks[i])
	}
}

func TestToken_CallerCancelDoesNotFailRenewal(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	iss := &fakeIssuer{ttl: time.Hour, gate: make(chan struct{})}
	m := newManager(iss, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Token(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return iss.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	err := <-done
	require.True(t, apperr.Is(err, apperr.KindAuthUnavailable))

	close(iss.gate)
	require.Eventually(t, func() bool { return m.Snapshot().State == StateValid }, time.Second, time.Millisecond)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
	require.EqualValues(t, 1, iss.calls.Load())
}

func TestToken_FailureIsAuthUnavailable(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	iss := &fakeIssuer{err: &courier.APIError{
		StatusCode: http.StatusUnauthorized,
		Message:    "Invalid credentials",
		Body:       []byte(`{"message":"Invalid credentials"}`),
	}}
	m := newManager(iss, clk)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	require.Equal(t, apperr.KindAuthUnavailable, apperr.KindOf(err))

	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	require.JSONEq(t, `{"message":"Invalid credentials"}`, string(ae.Details))
	require.Equal(t, StateEmpty, m.Snapshot().State)
}

func TestToken_ShortTTLServesCurrentCall(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	iss := &fakeIssuer{ttl: 30 * time.Second}
	m := newManager(iss, clk)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
	require.Equal(t, StateExpired, m.Snapshot().State)

	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
}

func TestPrewarmAndSnapshot(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	iss := &fakeIssuer{ttl: time.Hour}
	m := newManager(iss, clk)

	require.Equal(t, StateEmpty, m.Snapshot().State)
	require.NoError(t, m.Prewarm(context.Background()))

	snap := m.Snapshot()
	require.Equal(t, StateValid, snap.State)
	require.EqualValues(t, 1, snap.Renewals)
	require.Equal(t, clk.Now().Add(time.Hour), *snap.ExpiresAt)
	require.Equal(t, clk.Now().Add(59*time.Minute), *snap.RenewAt)

	clk.Advance(2 * time.Hour)
	require.Equal(t, StateExpired, m.Snapshot().State)
}
