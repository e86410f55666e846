package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/BearBump/BoiPrint/internal/integrations/courier"
)

// FakeClient is an in-process courier for local runs without Pathao credentials.
// Consignment ids and fees are deterministic per merchant order id.
type FakeClient struct {
	mu     sync.Mutex
	orders map[string]courier.OrderInfo
	issued int
}

func New() *FakeClient {
	return &FakeClient{orders: map[string]courier.OrderInfo{}}
}

var _ courier.Client = (*FakeClient)(nil)

func (f *FakeClient) IssueToken(ctx context.Context, req courier.TokenRequest) (courier.Token, error) {
	f.mu.Lock()
	f.issued++
	n := f.issued
	f.mu.Unlock()
	return courier.Token{
		AccessToken: fmt.Sprintf("fake-token-%d", n),
		TokenType:   "Bearer",
		ExpiresIn:   time.Hour,
	}, nil
}

func (f *FakeClient) Cities(ctx context.Context, token string) (json.RawMessage, error) {
	return json.RawMessage(`[{"city_id":1,"city_name":"Dhaka"},{"city_id":2,"city_name":"Chittagong"}]`), nil
}

func (f *FakeClient) Zones(ctx context.Context, token string, cityID int64) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`[{"zone_id":%d,"zone_name":"Zone %d-1"}]`, cityID*10, cityID)), nil
}

func (f *FakeClient) Areas(ctx context.Context, token string, zoneID int64) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`[{"area_id":%d,"area_name":"Area %d-1","home_delivery_available":true}]`, zoneID*10, zoneID)), nil
}

func (f *FakeClient) PricePlan(ctx context.Context, token string, req courier.PriceRequest) (json.RawMessage, error) {
	price := fee(req.CityID, req.ItemWeight)
	return json.RawMessage(fmt.Sprintf(`{"price":%g,"discount":0,"promo_discount":0,"plan_id":69,"cod_enabled":1,"cod_percentage":0.01,"additional_charge":0,"final_price":%g}`, price, price)), nil
}

func (f *FakeClient) CreateOrder(ctx context.Context, token string, req courier.CreateOrderRequest) (courier.CreateOrderResult, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.MerchantOrderID))
	id := fmt.Sprintf("FAKE-%08x", h.Sum32())

	info := courier.OrderInfo{
		ConsignmentID:   id,
		MerchantOrderID: req.MerchantOrderID,
		OrderStatus:     "Pending",
		OrderStatusSlug: "Pending",
	}
	f.mu.Lock()
	f.orders[id] = info
	f.mu.Unlock()

	d := fee(req.RecipientCity, req.ItemWeight)
	raw, _ := json.Marshal(map[string]any{
		"consignment_id":    id,
		"merchant_order_id": req.MerchantOrderID,
		"order_status":      info.OrderStatus,
		"delivery_fee":      d,
	})
	return courier.CreateOrderResult{
		ConsignmentID:   id,
		MerchantOrderID: req.MerchantOrderID,
		OrderStatus:     info.OrderStatus,
		DeliveryFee:     d,
		Raw:             raw,
	}, nil
}

// OrderInfo advances a known consignment one step per call: Pending, Pickup_Requested, In_Transit, Delivered.
func (f *FakeClient) OrderInfo(ctx context.Context, token, consignmentID string) (courier.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.orders[consignmentID]
	if !ok {
		return courier.OrderInfo{}, &courier.APIError{StatusCode: 404, Message: "consignment not found"}
	}
	switch info.OrderStatusSlug {
	case "Pending":
		info.OrderStatusSlug = "Pickup_Requested"
	case "Pickup_Requested":
		info.OrderStatusSlug = "In_Transit"
	default:
		info.OrderStatusSlug = "Delivered"
	}
	info.OrderStatus = info.OrderStatusSlug
	now := time.Now().UTC()
	info.UpdatedAt = &now
	f.orders[consignmentID] = info
	return info, nil
}

func fee(cityID int64, weight float64) float64 {
	base := 100.0
	if cityID == 1 {
		base = 60
	}
	if weight > 1 {
		base += 15 * float64(int(weight-0.0001))
	}
	return base
}
