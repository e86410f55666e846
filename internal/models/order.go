package models

import "time"

const (
	OrderStatusPending   = "Pending"
	OrderStatusConfirmed = "Confirmed"
)

type Order struct {
	ID              string  `json:"id"`
	OrderCode       string  `json:"orderCode"`
	CustomerName    string  `json:"customerName"`
	CustomerPhone   string  `json:"customerPhone"`
	CustomerEmail   string  `json:"customerEmail,omitempty"`
	DeliveryAddress string  `json:"deliveryAddress"`
	CityID          int64   `json:"cityId"`
	ZoneID          int64   `json:"zoneId"`
	AreaID          int64   `json:"areaId"`
	Quantity        int32   `json:"quantity"`
	ItemWeight      float64 `json:"itemWeight"`
	AmountToCollect float64 `json:"amountToCollect"`
	PaymentMethod   string  `json:"paymentMethod,omitempty"`
	ItemDescription string  `json:"itemDescription,omitempty"`
	Status          string  `json:"status"`

	// Courier fields are set together by MarkConfirmed, never one by one.
	CourierOrderID *string  `json:"courierOrderId,omitempty"`
	CourierStatus  *string  `json:"courierStatus,omitempty"`
	DeliveryFee    *float64 `json:"deliveryFee,omitempty"`

	MerchantOrderID    *string    `json:"merchantOrderId,omitempty"`
	DispatchLeaseUntil *time.Time `json:"-"`
	LastDispatchError  *string    `json:"lastDispatchError,omitempty"`

	LastSyncedAt  *time.Time `json:"courierSyncedAt,omitempty"`
	NextSyncAt    *time.Time `json:"-"`
	SyncFailCount int32      `json:"-"`
	LastSyncError *string    `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CourierFieldsComplete reports whether the order carries all three courier fields.
func (o *Order) CourierFieldsComplete() bool {
	return o.CourierOrderID != nil && o.CourierStatus != nil && o.DeliveryFee != nil
}

// CourierFieldsEmpty reports whether the order carries none of the courier fields.
func (o *Order) CourierFieldsEmpty() bool {
	return o.CourierOrderID == nil && o.CourierStatus == nil && o.DeliveryFee == nil
}

// Draft is the client-submitted order before validation.
type Draft struct {
	CustomerName    string  `json:"customerName"`
	CustomerPhone   string  `json:"customerPhone"`
	CustomerEmail   string  `json:"customerEmail,omitempty"`
	DeliveryAddress string  `json:"deliveryAddress"`
	CityID          int64   `json:"cityId"`
	ZoneID          int64   `json:"zoneId"`
	AreaID          int64   `json:"areaId"`
	Quantity        int32   `json:"quantity"`
	ItemWeight      float64 `json:"itemWeight"`
	AmountToCollect float64 `json:"amountToCollect"`
	PaymentMethod   string  `json:"paymentMethod,omitempty"`
	ItemDescription string  `json:"itemDescription,omitempty"`
}

type Confirmation struct {
	MerchantOrderID string
	CourierOrderID  string
	CourierStatus   string
	DeliveryFee     float64
	ConfirmedAt     time.Time
	NextSyncAt      time.Time
}

type StatusUpdate struct {
	OrderID       string
	CheckedAt     time.Time
	CourierStatus string
	NextSyncAt    time.Time
	Error         *string
}

type OrderFilter struct {
	Status string
	// Email matches CustomerEmail case-insensitively.
	Email  string
	Limit  int
	Offset int
}

type OrderStats struct {
	TotalOrders          int64   `json:"totalOrders"`
	PendingOrders        int64   `json:"pendingOrders"`
	ConfirmedOrders      int64   `json:"confirmedOrders"`
	TotalAmountToCollect float64 `json:"totalAmountToCollect"`
	TotalDeliveryFees    float64 `json:"totalDeliveryFees"`
}

// OrderEvent is one entry of an order's history.
type OrderEvent struct {
	ID            int64     `json:"id"`
	OrderID       string    `json:"orderId"`
	Kind          string    `json:"kind"`
	CourierStatus *string   `json:"courierStatus,omitempty"`
	Message       *string   `json:"message,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
