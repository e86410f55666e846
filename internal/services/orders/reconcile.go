package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/BoiPrint/internal/broker/messages"
	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/pkg/errors"
)

const defaultResyncDelay = 60 * time.Minute

// ApplyReconcile records a courier shipment that ConfirmOrder could not write.
// Replays are harmless; messages that no longer match the order are logged and dropped.
// Only storage errors are returned, so the message is redelivered.
func (s *Service) ApplyReconcile(ctx context.Context, msg messages.DispatchReconcile) error {
	if msg.OrderID == "" || msg.CourierOrderID == "" || msg.MerchantOrderID == "" {
		slog.Error("reconcile message dropped: missing ids", "order_id", msg.OrderID, "courier_order_id", msg.CourierOrderID)
		return nil
	}

	o, err := s.repo.GetOrder(ctx, msg.OrderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}
	if o == nil {
		slog.Error("reconcile message dropped: order not found",
			"order_id", msg.OrderID, "courier_order_id", msg.CourierOrderID, "merchant_order_id", msg.MerchantOrderID)
		return nil
	}

	if o.Status == models.OrderStatusConfirmed {
		if o.CourierOrderID != nil && *o.CourierOrderID == msg.CourierOrderID {
			return nil
		}
		slog.Error("reconcile mismatch: order confirmed with another shipment",
			"order_id", o.ID,
			"courier_order_id", msg.CourierOrderID,
			"merchant_order_id", msg.MerchantOrderID,
			"recorded_courier_order_id", deref(o.CourierOrderID),
		)
		return nil
	}

	confirmedAt := msg.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = s.now().UTC()
	}
	ok, err := s.repo.MarkConfirmed(ctx, o.ID, msg.MerchantOrderID, models.Confirmation{
		MerchantOrderID: msg.MerchantOrderID,
		CourierOrderID:  msg.CourierOrderID,
		CourierStatus:   msg.CourierStatus,
		DeliveryFee:     msg.DeliveryFee,
		ConfirmedAt:     confirmedAt,
		NextSyncAt:      s.now().UTC().Add(s.settings.FirstSyncDelay),
	})
	if err != nil {
		return errors.Wrap(err, "mark confirmed")
	}
	if !ok {
		slog.Error("reconcile mismatch: order has a newer dispatch reference",
			"order_id", o.ID,
			"courier_order_id", msg.CourierOrderID,
			"merchant_order_id", msg.MerchantOrderID,
			"current_merchant_order_id", deref(o.MerchantOrderID),
		)
		return nil
	}
	slog.Info("order reconciled", "order_id", o.ID, "courier_order_id", msg.CourierOrderID)
	return nil
}

// ApplyCourierStatus stores a status check published by the courier worker.
func (s *Service) ApplyCourierStatus(ctx context.Context, msg messages.CourierStatusUpdated) error {
	if msg.OrderID == "" {
		slog.Warn("courier status message dropped: order_id is empty", "courier_order_id", msg.CourierOrderID)
		return nil
	}
	if msg.CheckedAt.IsZero() {
		msg.CheckedAt = s.now().UTC()
	}
	if msg.NextSyncAt.IsZero() && !models.IsFinalCourierStatus(msg.CourierStatus) {
		// fallback: если воркер не прислал next_sync_at, проверим ещё раз через час
		msg.NextSyncAt = msg.CheckedAt.Add(defaultResyncDelay)
	}
	if msg.Error == nil && msg.CourierStatus == "" {
		slog.Warn("courier status message dropped: no status and no error", "order_id", msg.OrderID)
		return nil
	}

	err := s.repo.ApplyCourierStatus(ctx, models.StatusUpdate{
		OrderID:       msg.OrderID,
		CheckedAt:     msg.CheckedAt,
		CourierStatus: msg.CourierStatus,
		NextSyncAt:    msg.NextSyncAt,
		Error:         msg.Error,
	})
	return errors.Wrap(err, "apply courier status")
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
