package models

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrDuplicateCode is returned by stores when an order code is already taken.
var ErrDuplicateCode = errors.New("order code already exists")

// Pathao order_status_slug values after which a consignment no longer changes.
var FinalCourierStatuses = []string{
	"Delivered",
	"Partial_Delivery",
	"Return",
	"Returned",
	"Paid_Return",
	"Exchange",
	"Cancelled",
	"Delivery_Failed",
	"Paid",
}

func IsFinalCourierStatus(s string) bool {
	for _, f := range FinalCourierStatuses {
		if strings.EqualFold(s, f) {
			return true
		}
	}
	return false
}

// Order event kinds, in the order they usually happen.
const (
	EventSaved           = "saved"
	EventDispatchStarted = "dispatch_started"
	EventDispatchFailed  = "dispatch_failed"
	EventConfirmed       = "confirmed"
	EventCourierStatus   = "courier_status"
	EventSyncFailed      = "sync_failed"
)
