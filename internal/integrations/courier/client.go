package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Pathao defaults used for every BoiPrint shipment.
const (
	ItemTypeDocument     = 1
	ItemTypeParcel       = 2
	DeliveryTypeNormal   = 48
	DeliveryTypeOnDemand = 12

	DefaultItemDescription = "Printed books"
)

// ErrTimeout is matched (errors.Is) by every error caused by an exceeded courier deadline.
var ErrTimeout = errors.New("courier request timed out")

type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresIn    time.Duration
}

type PriceRequest struct {
	StoreID      int64   `json:"store_id"`
	ItemType     int     `json:"item_type"`
	DeliveryType int     `json:"delivery_type"`
	ItemWeight   float64 `json:"item_weight"`
	CityID       int64   `json:"recipient_city"`
	ZoneID       int64   `json:"recipient_zone"`
}

type CreateOrderRequest struct {
	StoreID            int64   `json:"store_id"`
	MerchantOrderID    string  `json:"merchant_order_id"`
	RecipientName      string  `json:"recipient_name"`
	RecipientPhone     string  `json:"recipient_phone"`
	RecipientAddress   string  `json:"recipient_address"`
	RecipientCity      int64   `json:"recipient_city"`
	RecipientZone      int64   `json:"recipient_zone"`
	RecipientArea      int64   `json:"recipient_area"`
	DeliveryType       int     `json:"delivery_type"`
	ItemType           int     `json:"item_type"`
	SpecialInstruction string  `json:"special_instruction,omitempty"`
	ItemQuantity       int32   `json:"item_quantity"`
	ItemWeight         float64 `json:"item_weight"`
	AmountToCollect    int64   `json:"amount_to_collect"`
	ItemDescription    string  `json:"item_description,omitempty"`
}

type CreateOrderResult struct {
	ConsignmentID   string
	MerchantOrderID string
	OrderStatus     string
	DeliveryFee     float64
	Raw             json.RawMessage
}

type OrderInfo struct {
	ConsignmentID   string
	MerchantOrderID string
	OrderStatus     string
	OrderStatusSlug string
	UpdatedAt       *time.Time
}

// Client is the courier API as seen by BoiPrint. Every call except IssueToken needs a bearer token.
type Client interface {
	IssueToken(ctx context.Context, req TokenRequest) (Token, error)
	Cities(ctx context.Context, token string) (json.RawMessage, error)
	Zones(ctx context.Context, token string, cityID int64) (json.RawMessage, error)
	Areas(ctx context.Context, token string, zoneID int64) (json.RawMessage, error)
	PricePlan(ctx context.Context, token string, req PriceRequest) (json.RawMessage, error)
	CreateOrder(ctx context.Context, token string, req CreateOrderRequest) (CreateOrderResult, error)
	OrderInfo(ctx context.Context, token, consignmentID string) (OrderInfo, error)
}

// APIError is a non-2xx courier response.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string][]string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "courier http error"
	}
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s (http %d)", msg, e.StatusCode)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return fmt.Sprintf("%s (http %d): %s", msg, e.StatusCode, strings.Join(parts, "; "))
}

// AsAPIError unwraps err to an *APIError when there is one.
func AsAPIError(err error) (*APIError, bool) {
	var e *APIError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
