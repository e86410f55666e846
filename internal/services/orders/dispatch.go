package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/BearBump/BoiPrint/internal/apperr"
	"github.com/BearBump/BoiPrint/internal/broker/messages"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/metrics"
	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ConfirmResult struct {
	Order   *models.Order
	Courier courier.CreateOrderResult
}

// ConfirmOrder submits a Pending order to the courier and records the shipment on it.
//
// Steps: load, require Pending, take the dispatch lease under a fresh merchant reference,
// get a token, create the courier order, then write status and courier fields in one update.
// When the last write keeps failing the shipment is logged, published for reconciliation
// and the call fails with ReconcilePending.
func (s *Service) ConfirmOrder(ctx context.Context, idOrCode string) (*ConfirmResult, error) {
	res, outcome, err := s.confirm(ctx, idOrCode)
	metrics.Dispatches.WithLabelValues(outcome).Inc()
	return res, err
}

func (s *Service) confirm(ctx context.Context, idOrCode string) (*ConfirmResult, string, error) {
	o, err := s.GetOrder(ctx, idOrCode)
	if err != nil {
		return nil, outcomeOf(err), err
	}
	if o.Status != models.OrderStatusPending {
		return nil, "conflict", apperr.Newf(apperr.KindConflict, "order %s is already %s", o.OrderCode, o.Status).
			WithDetails(mustJSON(map[string]any{"status": o.Status, "courierOrderId": o.CourierOrderID}))
	}

	// The shipment must be recorded even if the client goes away mid-call.
	ctx = context.WithoutCancel(ctx)

	ref := uuid.NewString()
	ok, err := s.repo.BeginDispatch(ctx, o.ID, ref, s.now().UTC(), s.settings.DispatchLease)
	if err != nil {
		return nil, "internal", apperr.Wrap(err, apperr.KindInternal, "begin dispatch")
	}
	if !ok {
		return nil, "conflict", apperr.Newf(apperr.KindConflict, "order %s is being dispatched or no longer Pending", o.OrderCode)
	}

	tok, err := s.token(ctx)
	if err != nil {
		s.abort(ctx, o.ID, ref, err)
		return nil, "auth_unavailable", err
	}

	req := s.courierRequest(o, ref)
	started := time.Now()
	created, err := s.courier.CreateOrder(ctx, tok, req)
	metrics.CourierLatency.WithLabelValues("create_order").Observe(time.Since(started).Seconds())
	if err != nil {
		derr := dispatchError(err)
		s.abort(ctx, o.ID, ref, err)
		return nil, outcomeOf(derr), derr
	}

	now := s.now().UTC()
	conf := models.Confirmation{
		MerchantOrderID: ref,
		CourierOrderID:  created.ConsignmentID,
		CourierStatus:   created.OrderStatus,
		DeliveryFee:     created.DeliveryFee,
		ConfirmedAt:     now,
		NextSyncAt:      now.Add(s.settings.FirstSyncDelay),
	}
	if conf.CourierStatus == "" {
		conf.CourierStatus = "Pending"
	}

	if err := s.markConfirmed(ctx, o.ID, ref, conf); err != nil {
		s.orphaned(ctx, o, conf, err)
		return nil, "reconcile_pending", apperr.Wrap(err, apperr.KindReconcilePending,
			"courier accepted the order but it could not be recorded locally; it will be reconciled").
			WithDetails(mustJSON(map[string]any{
				"courierOrderId":  conf.CourierOrderID,
				"merchantOrderId": ref,
			}))
	}

	slog.Info("order confirmed",
		"order_id", o.ID,
		"order_code", o.OrderCode,
		"courier_order_id", conf.CourierOrderID,
		"courier_status", conf.CourierStatus,
		"delivery_fee", conf.DeliveryFee,
	)

	updated, err := s.repo.GetOrder(ctx, o.ID)
	if err != nil || updated == nil {
		updated = confirmedCopy(o, conf)
	}
	return &ConfirmResult{Order: updated, Courier: created}, "confirmed", nil
}

func (s *Service) courierRequest(o *models.Order, ref string) courier.CreateOrderRequest {
	desc := o.ItemDescription
	if desc == "" {
		desc = courier.DefaultItemDescription
	}
	qty := o.Quantity
	if qty <= 0 {
		qty = 1
	}
	return courier.CreateOrderRequest{
		StoreID:          s.settings.StoreID,
		MerchantOrderID:  ref,
		RecipientName:    o.CustomerName,
		RecipientPhone:   o.CustomerPhone,
		RecipientAddress: o.DeliveryAddress,
		RecipientCity:    o.CityID,
		RecipientZone:    o.ZoneID,
		RecipientArea:    o.AreaID,
		DeliveryType:     courier.DeliveryTypeNormal,
		ItemType:         courier.ItemTypeParcel,
		ItemQuantity:     qty,
		ItemWeight:       o.ItemWeight,
		AmountToCollect:  int64(math.Round(o.AmountToCollect)),
		ItemDescription:  desc,
	}
}

// markConfirmed retries the local write with doubling backoff.
func (s *Service) markConfirmed(ctx context.Context, id, ref string, conf models.Confirmation) error {
	backoff := s.settings.ConfirmBackoff
	var lastErr error
	for attempt := 1; attempt <= s.settings.ConfirmAttempts; attempt++ {
		ok, err := s.repo.MarkConfirmed(ctx, id, ref, conf)
		if err == nil && ok {
			return nil
		}
		if err == nil {
			// An earlier attempt may have committed without us seeing the ack.
			if cur, gerr := s.repo.GetOrder(ctx, id); gerr == nil && cur != nil &&
				cur.CourierOrderID != nil && *cur.CourierOrderID == conf.CourierOrderID {
				return nil
			}
			return errors.New("order no longer matches the dispatch reference")
		}
		lastErr = err
		slog.Warn("confirm order write failed", "order_id", id, "attempt", attempt, "error", err)
		if attempt < s.settings.ConfirmAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return errors.Wrap(lastErr, "mark confirmed")
}

func (s *Service) abort(ctx context.Context, id, ref string, cause error) {
	if err := s.repo.AbortDispatch(ctx, id, ref, cause.Error()); err != nil {
		slog.Error("release dispatch lease failed", "order_id", id, "error", err)
	}
}

func (s *Service) orphaned(ctx context.Context, o *models.Order, conf models.Confirmation, cause error) {
	slog.Error("courier shipment not recorded locally",
		"order_id", o.ID,
		"order_code", o.OrderCode,
		"courier_order_id", conf.CourierOrderID,
		"merchant_order_id", conf.MerchantOrderID,
		"courier_status", conf.CourierStatus,
		"delivery_fee", conf.DeliveryFee,
		"error", cause,
	)
	if s.pub == nil {
		return
	}
	msg := messages.DispatchReconcile{
		OrderID:         o.ID,
		OrderCode:       o.OrderCode,
		MerchantOrderID: conf.MerchantOrderID,
		CourierOrderID:  conf.CourierOrderID,
		CourierStatus:   conf.CourierStatus,
		DeliveryFee:     conf.DeliveryFee,
		ConfirmedAt:     conf.ConfirmedAt,
		LastError:       cause.Error(),
	}
	if err := s.pub.PublishJSON(ctx, s.settings.ReconcileTopic, o.ID, msg); err != nil {
		slog.Error("publish reconcile failed", "order_id", o.ID, "courier_order_id", conf.CourierOrderID, "error", err)
	}
}

func dispatchError(err error) error {
	if errors.Is(err, courier.ErrTimeout) {
		return apperr.Wrap(err, apperr.KindGatewayTimeout, "courier did not answer in time")
	}
	if apiErr, ok := courier.AsAPIError(err); ok {
		msg := apiErr.Message
		if msg == "" {
			msg = "courier rejected the order"
		}
		e := apperr.Wrap(err, apperr.KindDispatchFailed, msg).WithDetails(apiErr.Body)
		if len(apiErr.Fields) > 0 {
			e.WithFields(apiErr.Fields)
		}
		return e
	}
	return apperr.Wrap(err, apperr.KindDispatchFailed, "courier order creation failed")
}

func outcomeOf(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindValidation:
		return "invalid"
	case apperr.KindGatewayTimeout:
		return "timeout"
	case apperr.KindDispatchFailed:
		return "dispatch_failed"
	default:
		return "internal"
	}
}

func confirmedCopy(o *models.Order, conf models.Confirmation) *models.Order {
	c := *o
	id, st, fee, ref := conf.CourierOrderID, conf.CourierStatus, conf.DeliveryFee, conf.MerchantOrderID
	c.Status = models.OrderStatusConfirmed
	c.CourierOrderID = &id
	c.CourierStatus = &st
	c.DeliveryFee = &fee
	c.MerchantOrderID = &ref
	c.DispatchLeaseUntil = nil
	c.UpdatedAt = conf.ConfirmedAt
	return &c
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
