package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// BeginDispatch records ref as the order's merchant reference and takes the dispatch lease.
// It reports false when the order is not Pending or another dispatch holds an unexpired lease.
func (s *Storage) BeginDispatch(ctx context.Context, id, ref string, now time.Time, lease time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE orders
SET merchant_order_id = $2, dispatch_lease_until = $3, updated_at = $4
WHERE id = $1
  AND status = $5
  AND (dispatch_lease_until IS NULL OR dispatch_lease_until <= $4)
`, id, ref, now.UTC().Add(lease), now.UTC(), models.OrderStatusPending)
	if err != nil {
		return false, errors.Wrap(err, "lease dispatch")
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := insertEvent(ctx, tx, id, models.EventDispatchStarted, nil, &ref, now); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

// AbortDispatch releases the lease taken with ref and records why the dispatch failed.
func (s *Storage) AbortDispatch(ctx context.Context, id, ref, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
UPDATE orders
SET dispatch_lease_until = NULL, last_dispatch_error = $3, updated_at = $4
WHERE id = $1 AND merchant_order_id = $2 AND status = $5
`, id, ref, nullable(errMsg), now, models.OrderStatusPending)
	if err != nil {
		return errors.Wrap(err, "release dispatch")
	}
	if tag.RowsAffected() > 0 {
		if err := insertEvent(ctx, tx, id, models.EventDispatchFailed, nil, nullable(errMsg), now); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// MarkConfirmed moves a Pending order dispatched with ref to Confirmed, writing the three
// courier fields in the same statement. It reports false when nothing matched.
func (s *Storage) MarkConfirmed(ctx context.Context, id, ref string, c models.Confirmation) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE orders
SET status = $3,
    courier_order_id = $4,
    courier_status = $5,
    delivery_fee = $6,
    dispatch_lease_until = NULL,
    last_dispatch_error = NULL,
    next_sync_at = $7,
    sync_fail_count = 0,
    updated_at = $8
WHERE id = $1 AND merchant_order_id = $2 AND status = $9
`, id, ref, models.OrderStatusConfirmed,
		c.CourierOrderID, c.CourierStatus, c.DeliveryFee,
		nullTime(c.NextSyncAt), c.ConfirmedAt.UTC(), models.OrderStatusPending)
	if err != nil {
		return false, errors.Wrap(err, "confirm order")
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := insertEvent(ctx, tx, id, models.EventConfirmed, &c.CourierStatus, &c.CourierOrderID, c.ConfirmedAt); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}
