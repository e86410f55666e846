package messages

import "time"

const TopicDispatchReconcile = "courier.dispatch.reconcile"

// DispatchReconcile carries a courier shipment whose local confirmation could not be written.
type DispatchReconcile struct {
	OrderID         string    `json:"order_id"`
	OrderCode       string    `json:"order_code"`
	MerchantOrderID string    `json:"merchant_order_id"`
	CourierOrderID  string    `json:"courier_order_id"`
	CourierStatus   string    `json:"courier_status"`
	DeliveryFee     float64   `json:"delivery_fee"`
	ConfirmedAt     time.Time `json:"confirmed_at"`
	LastError       string    `json:"last_error,omitempty"`
}
