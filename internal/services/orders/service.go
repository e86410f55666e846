package orders

import (
	"context"
	"time"

	"github.com/BearBump/BoiPrint/internal/apperr"
	"github.com/BearBump/BoiPrint/internal/broker/messages"
	"github.com/BearBump/BoiPrint/internal/cache"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/models"
)

type Repository interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, idOrCode string) (*models.Order, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.Order, error)
	ListOrderEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.OrderEvent, error)
	BeginDispatch(ctx context.Context, id, ref string, now time.Time, lease time.Duration) (bool, error)
	AbortDispatch(ctx context.Context, id, ref, errMsg string) error
	MarkConfirmed(ctx context.Context, id, ref string, c models.Confirmation) (bool, error)
	ApplyCourierStatus(ctx context.Context, upd models.StatusUpdate) error
	Stats(ctx context.Context) (models.OrderStats, error)
}

// TokenSource hands out courier bearer tokens (session.Manager).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type Settings struct {
	StoreID int64

	// DispatchLease is how long one confirm attempt owns an order.
	DispatchLease time.Duration

	LocationTTL time.Duration

	// ConfirmAttempts and ConfirmBackoff drive the local update retry after the courier accepted an order.
	// Backoff doubles per attempt: 100ms, 200ms, 400ms by default.
	ConfirmAttempts int
	ConfirmBackoff  time.Duration

	// FirstSyncDelay schedules the first courier status check after confirmation.
	FirstSyncDelay time.Duration

	ReconcileTopic string
}

func (st Settings) withDefaults() Settings {
	if st.DispatchLease <= 0 {
		st.DispatchLease = 2 * time.Minute
	}
	if st.LocationTTL <= 0 {
		st.LocationTTL = 12 * time.Hour
	}
	if st.ConfirmAttempts <= 0 {
		st.ConfirmAttempts = 3
	}
	if st.ConfirmBackoff <= 0 {
		st.ConfirmBackoff = 100 * time.Millisecond
	}
	if st.FirstSyncDelay <= 0 {
		st.FirstSyncDelay = 30 * time.Minute
	}
	if st.ReconcileTopic == "" {
		st.ReconcileTopic = messages.TopicDispatchReconcile
	}
	return st
}

type Service struct {
	repo    Repository
	courier courier.Client
	tokens  TokenSource

	cache cache.BytesCache
	pub   Publisher

	settings Settings
	now      func() time.Time
}

func New(repo Repository, c courier.Client, tokens TokenSource) *Service {
	return &Service{
		repo:     repo,
		courier:  c,
		tokens:   tokens,
		settings: Settings{}.withDefaults(),
		now:      time.Now,
	}
}

func (s *Service) WithSettings(st Settings) *Service {
	s.settings = st.withDefaults()
	return s
}

// WithCache enables caching of courier location lists. A nil cache disables it.
func (s *Service) WithCache(c cache.BytesCache) *Service {
	s.cache = c
	return s
}

// WithPublisher enables reconcile messages for shipments whose local confirmation failed.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.pub = p
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) GetOrder(ctx context.Context, idOrCode string) (*models.Order, error) {
	if idOrCode == "" {
		return nil, apperr.New(apperr.KindValidation, "order id is required").
			WithFields(map[string][]string{"id": {"is required"}})
	}
	o, err := s.repo.GetOrder(ctx, idOrCode)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "load order")
	}
	if o == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "order %q not found", idOrCode)
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.Order, error) {
	switch f.Status {
	case "", models.OrderStatusPending, models.OrderStatusConfirmed:
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown status %q", f.Status).
			WithFields(map[string][]string{"status": {"must be Pending or Confirmed"}})
	}
	out, err := s.repo.ListOrders(ctx, f)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "list orders")
	}
	return out, nil
}

func (s *Service) OrderEvents(ctx context.Context, idOrCode string, limit, offset int) ([]*models.OrderEvent, error) {
	o, err := s.GetOrder(ctx, idOrCode)
	if err != nil {
		return nil, err
	}
	evs, err := s.repo.ListOrderEvents(ctx, o.ID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "list order events")
	}
	return evs, nil
}

// Dashboard returns order counts and money totals for the admin view.
func (s *Service) Dashboard(ctx context.Context) (models.OrderStats, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return models.OrderStats{}, apperr.Wrap(err, apperr.KindInternal, "order stats")
	}
	return st, nil
}

func (s *Service) token(ctx context.Context) (string, error) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		if apperr.Is(err, apperr.KindAuthUnavailable) {
			return "", err
		}
		return "", apperr.Wrap(err, apperr.KindAuthUnavailable, "courier authentication failed")
	}
	return tok, nil
}
