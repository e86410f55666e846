package messages

import "time"

const TopicCourierStatusUpdated = "courier.status.updated"

// CourierStatusUpdated is published by the courier worker after each OrderInfo check.
type CourierStatusUpdated struct {
	OrderID        string    `json:"order_id"`
	CourierOrderID string    `json:"courier_order_id"`
	CheckedAt      time.Time `json:"checked_at"`

	CourierStatus string     `json:"courier_status,omitempty"`
	StatusAt      *time.Time `json:"status_at,omitempty"`

	NextSyncAt time.Time `json:"next_sync_at"`

	Error *string `json:"error,omitempty"`
}
