package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/BoiPrint/internal/apperr"
	cachemocks "github.com/BearBump/BoiPrint/internal/cache/mocks"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	couriermocks "github.com/BearBump/BoiPrint/internal/integrations/courier/mocks"
	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	ordersmocks "github.com/BearBump/BoiPrint/internal/services/orders/mocks"
)

type ServiceSuite struct {
	suite.Suite

	repo    *ordersmocks.MockRepository
	tokens  *ordersmocks.MockTokenSource
	courier *couriermocks.MockClient
	cache   *cachemocks.MockBytesCache
	svc     *Service
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &ordersmocks.MockRepository{}
	s.tokens = &ordersmocks.MockTokenSource{}
	s.courier = &couriermocks.MockClient{}
	s.cache = &cachemocks.MockBytesCache{}
	s.svc = New(s.repo, s.courier, s.tokens).
		WithCache(s.cache).
		WithSettings(Settings{StoreID: 77, LocationTTL: time.Hour, ConfirmBackoff: time.Millisecond})
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:              "8b7e2f3a-0000-4000-8000-000000000001",
		OrderCode:       "ORD-8b7e2f3a",
		CustomerName:    "A",
		CustomerPhone:   "01712345678",
		DeliveryAddress: "X",
		CityID:          1,
		ZoneID:          10,
		AreaID:          100,
		Quantity:        1,
		ItemWeight:      1,
		AmountToCollect: 500,
		Status:          models.OrderStatusPending,
	}
}

func (s *ServiceSuite) TestConfirmOrder_AuthUnavailableReleasesLease() {
	o := pendingOrder()
	s.repo.On("GetOrder", mock.Anything, o.ID).Return(o, nil).Once()
	s.repo.On("BeginDispatch", mock.Anything, o.ID, mock.AnythingOfType("string"), mock.Anything, 2*time.Minute).
		Return(true, nil).Once()
	s.tokens.On("Token", mock.Anything).
		Return("", apperr.New(apperr.KindAuthUnavailable, "courier authentication failed")).Once()
	s.repo.On("AbortDispatch", mock.Anything, o.ID, mock.AnythingOfType("string"), mock.Anything).Return(nil).Once()

	_, err := s.svc.ConfirmOrder(context.Background(), o.ID)
	s.Require().Equal(apperr.KindAuthUnavailable, apperr.KindOf(err))
	s.courier.AssertNotCalled(s.T(), "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestConfirmOrder_PlainTokenErrorBecomesAuthUnavailable() {
	o := pendingOrder()
	s.repo.On("GetOrder", mock.Anything, o.ID).Return(o, nil).Once()
	s.repo.On("BeginDispatch", mock.Anything, o.ID, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()
	s.tokens.On("Token", mock.Anything).Return("", errors.New("dial tcp: refused")).Once()
	s.repo.On("AbortDispatch", mock.Anything, o.ID, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := s.svc.ConfirmOrder(context.Background(), o.ID)
	s.Require().True(apperr.Is(err, apperr.KindAuthUnavailable))
}

func (s *ServiceSuite) TestConfirmOrder_LeaseHeldIsConflict() {
	o := pendingOrder()
	s.repo.On("GetOrder", mock.Anything, o.ID).Return(o, nil).Once()
	s.repo.On("BeginDispatch", mock.Anything, o.ID, mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()

	_, err := s.svc.ConfirmOrder(context.Background(), o.ID)
	s.Require().Equal(apperr.KindConflict, apperr.KindOf(err))
	s.tokens.AssertNotCalled(s.T(), "Token", mock.Anything)
}

func (s *ServiceSuite) TestConfirmOrder_AckLostOnFirstWriteStillSucceeds() {
	o := pendingOrder()
	confirmed := confirmedCopy(o, models.Confirmation{CourierOrderID: "C1", CourierStatus: "Pending"})

	s.repo.On("GetOrder", mock.Anything, o.ID).Return(o, nil).Once()
	s.repo.On("BeginDispatch", mock.Anything, o.ID, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()
	s.tokens.On("Token", mock.Anything).Return("tok", nil).Once()
	s.courier.On("CreateOrder", mock.Anything, "tok", mock.MatchedBy(func(r courier.CreateOrderRequest) bool {
		return r.StoreID == 77 && r.AmountToCollect == 500 && r.ItemQuantity == 1
	})).Return(courier.CreateOrderResult{ConsignmentID: "C1", OrderStatus: "Pending"}, nil).Once()
	s.repo.On("MarkConfirmed", mock.Anything, o.ID, mock.Anything, mock.Anything).Return(false, errors.New("conn reset")).Once()
	s.repo.On("MarkConfirmed", mock.Anything, o.ID, mock.Anything, mock.Anything).Return(false, nil).Once()
	s.repo.On("GetOrder", mock.Anything, o.ID).Return(confirmed, nil)

	res, err := s.svc.ConfirmOrder(context.Background(), o.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.OrderStatusConfirmed, res.Order.Status)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestZones_CacheHitSkipsCourier() {
	s.cache.On("Get", mock.Anything, "courier:zones:1").Return([]byte(`[{"zone_id":10}]`), true, nil).Once()

	out, err := s.svc.Zones(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().JSONEq(`[{"zone_id":10}]`, string(out))
	s.tokens.AssertNotCalled(s.T(), "Token", mock.Anything)
	s.courier.AssertNotCalled(s.T(), "Zones", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCities_CacheErrorsAreIgnored() {
	s.cache.On("Get", mock.Anything, "courier:cities").Return([]byte(nil), false, errors.New("redis down")).Once()
	s.tokens.On("Token", mock.Anything).Return("tok", nil).Once()
	s.courier.On("Cities", mock.Anything, "tok").Return(json.RawMessage(`[{"city_id":1}]`), nil).Once()
	s.cache.On("Set", mock.Anything, "courier:cities", mock.Anything, time.Hour).Return(errors.New("redis down")).Once()

	out, err := s.svc.Cities(context.Background())
	s.Require().NoError(err)
	s.Require().JSONEq(`[{"city_id":1}]`, string(out))
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestAreas_UpstreamErrorIsLookupFailed() {
	s.cache.On("Get", mock.Anything, "courier:areas:10").Return([]byte(nil), false, nil).Once()
	s.tokens.On("Token", mock.Anything).Return("tok", nil).Once()
	s.courier.On("Areas", mock.Anything, "tok", int64(10)).
		Return(nil, &courier.APIError{StatusCode: 500, Body: json.RawMessage(`{"message":"x"}`)}).Once()

	_, err := s.svc.Areas(context.Background(), 10)
	s.Require().Equal(apperr.KindLookupFailed, apperr.KindOf(err))
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = s.svc.Areas(context.Background(), 0)
	s.Require().Equal(apperr.KindValidation, apperr.KindOf(err))
}

func (s *ServiceSuite) TestQuotePrice_PassesPayloadThrough() {
	s.tokens.On("Token", mock.Anything).Return("tok", nil).Once()
	s.courier.On("PricePlan", mock.Anything, "tok", courier.PriceRequest{
		StoreID: 77, ItemType: courier.ItemTypeParcel, DeliveryType: courier.DeliveryTypeNormal,
		ItemWeight: 0.5, CityID: 1, ZoneID: 10,
	}).Return(json.RawMessage(`{"price":60,"final_price":60}`), nil).Once()

	out, err := s.svc.QuotePrice(context.Background(), PriceQuery{CityID: 1, ZoneID: 10})
	s.Require().NoError(err)
	s.Require().JSONEq(`{"price":60,"final_price":60}`, string(out))
	s.courier.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestQuotePrice_Failures() {
	_, err := s.svc.QuotePrice(context.Background(), PriceQuery{})
	s.Require().Equal(apperr.KindValidation, apperr.KindOf(err))

	s.tokens.On("Token", mock.Anything).Return("tok", nil).Once()
	s.courier.On("PricePlan", mock.Anything, "tok", mock.Anything).Return(nil, courier.ErrTimeout).Once()
	_, err = s.svc.QuotePrice(context.Background(), PriceQuery{CityID: 1, ZoneID: 10, ItemWeight: 2})
	s.Require().Equal(apperr.KindQuoteFailed, apperr.KindOf(err))
}

func (s *ServiceSuite) TestGetOrder_RepoErrorIsInternal() {
	s.repo.On("GetOrder", mock.Anything, "ORD-x").Return(nil, errors.New("db down")).Once()
	_, err := s.svc.GetOrder(context.Background(), "ORD-x")
	s.Require().Equal(apperr.KindInternal, apperr.KindOf(err))

	_, err = s.svc.GetOrder(context.Background(), "")
	s.Require().Equal(apperr.KindValidation, apperr.KindOf(err))
}

func (s *ServiceSuite) TestDashboard() {
	want := models.OrderStats{TotalOrders: 3, PendingOrders: 1, ConfirmedOrders: 2}
	s.repo.On("Stats", mock.Anything).Return(want, nil).Once()

	got, err := s.svc.Dashboard(context.Background())
	s.Require().NoError(err)
	s.Require().Equal(want, got)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
