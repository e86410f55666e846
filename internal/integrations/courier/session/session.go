// Package session keeps one courier bearer token per process and renews it before it expires.
//
// Renewal is lazy: the first caller after expiry pays the issue-token round trip while
// concurrent callers wait on the same in-flight renewal. Prewarm moves that cost to start-up.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/BoiPrint/internal/apperr"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/metrics"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSafetyMargin = 60 * time.Second
	DefaultTimeout      = 10 * time.Second

	renewKey = "token"
)

type State string

const (
	StateEmpty   State = "Empty"
	StateValid   State = "Valid"
	StateExpired State = "Expired"
)

// Issuer is the part of the courier client the manager needs.
type Issuer interface {
	IssueToken(ctx context.Context, req courier.TokenRequest) (courier.Token, error)
}

type Snapshot struct {
	State     State      `json:"state"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RenewAt   *time.Time `json:"renewAt,omitempty"`
	Renewals  int64      `json:"renewals"`
}

type Manager struct {
	issuer  Issuer
	req     courier.TokenRequest
	margin  time.Duration
	timeout time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	renewals  int64

	group singleflight.Group
}

type Option func(*Manager)

func WithSafetyMargin(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.margin = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTimeout bounds a single renewal call.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func New(issuer Issuer, req courier.TokenRequest, opts ...Option) *Manager {
	m := &Manager{
		issuer:  issuer,
		req:     req,
		margin:  DefaultSafetyMargin,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Token returns a bearer token that stays valid for at least the safety margin,
// renewing it first when none is held or the held one is inside the margin.
// Failures are apperr.KindAuthUnavailable.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	tok, fresh := m.token, m.freshLocked(m.now())
	m.mu.RUnlock()
	if fresh {
		return tok, nil
	}

	ch := m.group.DoChan(renewKey, func() (any, error) {
		return m.renew(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", apperr.Wrap(ctx.Err(), apperr.KindAuthUnavailable, "waiting for courier token")
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Prewarm acquires the first token so the first courier request does not wait for it.
func (m *Manager) Prewarm(ctx context.Context) error {
	_, err := m.Token(ctx)
	return err
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{State: StateEmpty, Renewals: m.renewals}
	if m.token == "" {
		return s
	}
	exp := m.expiresAt
	renewAt := exp.Add(-m.margin)
	s.ExpiresAt = &exp
	s.RenewAt = &renewAt
	if m.freshLocked(m.now()) {
		s.State = StateValid
	} else {
		s.State = StateExpired
	}
	return s
}

func (m *Manager) freshLocked(now time.Time) bool {
	return m.token != "" && now.Before(m.expiresAt.Add(-m.margin))
}

func (m *Manager) renew(ctx context.Context) (string, error) {
	// A caller that lost the race may arrive after the renewal it was waiting on finished.
	m.mu.RLock()
	if m.freshLocked(m.now()) {
		tok := m.token
		m.mu.RUnlock()
		return tok, nil
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	issued, err := m.issuer.IssueToken(ctx, m.req)
	if err != nil {
		metrics.TokenRenewals.WithLabelValues("error").Inc()
		slog.Error("courier token renewal failed", "error", err)
		return "", authError(err)
	}

	now := m.now()
	if issued.ExpiresIn <= m.margin {
		slog.Warn("courier token ttl is within the safety margin; it will be renewed on next use",
			"ttl", issued.ExpiresIn, "margin", m.margin)
	}

	m.mu.Lock()
	m.token = issued.AccessToken
	m.expiresAt = now.Add(issued.ExpiresIn)
	m.renewals++
	m.mu.Unlock()

	metrics.TokenRenewals.WithLabelValues("ok").Inc()
	slog.Info("courier token renewed", "expires_at", now.Add(issued.ExpiresIn).UTC())
	return issued.AccessToken, nil
}

func authError(err error) error {
	e := apperr.Wrap(errors.Wrap(err, "issue token"), apperr.KindAuthUnavailable, "courier authentication failed")
	if apiErr, ok := courier.AsAPIError(err); ok {
		e.WithDetails(apiErr.Body)
		if len(apiErr.Fields) > 0 {
			e.WithFields(apiErr.Fields)
		}
	}
	return e
}
