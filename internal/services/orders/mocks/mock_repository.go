package mocks

import (
	"context"
	"time"

	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of orders.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateOrder(ctx context.Context, o *models.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockRepository) GetOrder(ctx context.Context, idOrCode string) (*models.Order, error) {
	args := m.Called(ctx, idOrCode)
	var o *models.Order
	if v := args.Get(0); v != nil {
		o = v.(*models.Order)
	}
	return o, args.Error(1)
}

func (m *MockRepository) ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.Order, error) {
	args := m.Called(ctx, f)
	var out []*models.Order
	if v := args.Get(0); v != nil {
		out = v.([]*models.Order)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListOrderEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.OrderEvent, error) {
	args := m.Called(ctx, orderID, limit, offset)
	var out []*models.OrderEvent
	if v := args.Get(0); v != nil {
		out = v.([]*models.OrderEvent)
	}
	return out, args.Error(1)
}

func (m *MockRepository) BeginDispatch(ctx context.Context, id, ref string, now time.Time, lease time.Duration) (bool, error) {
	args := m.Called(ctx, id, ref, now, lease)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) AbortDispatch(ctx context.Context, id, ref, errMsg string) error {
	return m.Called(ctx, id, ref, errMsg).Error(0)
}

func (m *MockRepository) MarkConfirmed(ctx context.Context, id, ref string, c models.Confirmation) (bool, error) {
	args := m.Called(ctx, id, ref, c)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ApplyCourierStatus(ctx context.Context, upd models.StatusUpdate) error {
	return m.Called(ctx, upd).Error(0)
}

func (m *MockRepository) Stats(ctx context.Context) (models.OrderStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.OrderStats), args.Error(1)
}
