package mocks

import (
	"context"
	"encoding/json"

	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of courier.Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) IssueToken(ctx context.Context, req courier.TokenRequest) (courier.Token, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(courier.Token), args.Error(1)
}

func (m *MockClient) Cities(ctx context.Context, token string) (json.RawMessage, error) {
	args := m.Called(ctx, token)
	return raw(args.Get(0)), args.Error(1)
}

func (m *MockClient) Zones(ctx context.Context, token string, cityID int64) (json.RawMessage, error) {
	args := m.Called(ctx, token, cityID)
	return raw(args.Get(0)), args.Error(1)
}

func (m *MockClient) Areas(ctx context.Context, token string, zoneID int64) (json.RawMessage, error) {
	args := m.Called(ctx, token, zoneID)
	return raw(args.Get(0)), args.Error(1)
}

func (m *MockClient) PricePlan(ctx context.Context, token string, req courier.PriceRequest) (json.RawMessage, error) {
	args := m.Called(ctx, token, req)
	return raw(args.Get(0)), args.Error(1)
}

func (m *MockClient) CreateOrder(ctx context.Context, token string, req courier.CreateOrderRequest) (courier.CreateOrderResult, error) {
	args := m.Called(ctx, token, req)
	return args.Get(0).(courier.CreateOrderResult), args.Error(1)
}

func (m *MockClient) OrderInfo(ctx context.Context, token, consignmentID string) (courier.OrderInfo, error) {
	args := m.Called(ctx, token, consignmentID)
	return args.Get(0).(courier.OrderInfo), args.Error(1)
}

func raw(v any) json.RawMessage {
	switch b := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return b
	case []byte:
		return b
	case string:
		return json.RawMessage(b)
	default:
		panic("mocks: unsupported raw message type")
	}
}
