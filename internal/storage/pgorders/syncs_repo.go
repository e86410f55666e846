package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ClaimDueSyncs выбирает подтверждённые заказы, у которых подошёл next_sync_at, и "бронирует" их
// на lease, чтобы другой воркер не взял их повторно. SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueSyncs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT`+orderColumns+`
FROM orders
WHERE status = $1
  AND next_sync_at IS NOT NULL
  AND next_sync_at <= $2
  AND NOT (courier_status = ANY($3))
ORDER BY next_sync_at ASC
LIMIT $4
FOR UPDATE SKIP LOCKED
`, models.OrderStatusConfirmed, now.UTC(), models.FinalCourierStatuses, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due syncs")
	}
	defer rows.Close()

	var picked []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due order")
		}
		picked = append(picked, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	leaseUntil := now.UTC().Add(lease)
	for _, o := range picked {
		if _, err := tx.Exec(ctx, `UPDATE orders SET next_sync_at = $2 WHERE id = $1`, o.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease order sync")
		}
		o.NextSyncAt = &leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// ApplyCourierStatus writes one worker check result. A zero NextSyncAt stops further syncing.
func (s *Storage) ApplyCourierStatus(ctx context.Context, upd models.StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prev *string
	err = tx.QueryRow(ctx, `SELECT courier_status FROM orders WHERE id = $1 AND status = $2 FOR UPDATE`,
		upd.OrderID, models.OrderStatusConfirmed).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "select order for update")
	}

	checkedAt := upd.CheckedAt.UTC()
	if upd.Error != nil {
		_, err = tx.Exec(ctx, `
UPDATE orders
SET last_synced_at = $2,
    next_sync_at = $3,
    sync_fail_count = sync_fail_count + 1,
    last_sync_error = $4,
    updated_at = $2
WHERE id = $1
`, upd.OrderID, checkedAt, nullTime(upd.NextSyncAt), *upd.Error)
		if err != nil {
			return errors.Wrap(err, "update sync failure")
		}
		if err := insertEvent(ctx, tx, upd.OrderID, models.EventSyncFailed, nil, upd.Error, checkedAt); err != nil {
			return err
		}
		return errors.Wrap(tx.Commit(ctx), "commit tx")
	}

	_, err = tx.Exec(ctx, `
UPDATE orders
SET courier_status = $2,
    last_synced_at = $3,
    next_sync_at = $4,
    sync_fail_count = 0,
    last_sync_error = NULL,
    updated_at = $3
WHERE id = $1
`, upd.OrderID, upd.CourierStatus, checkedAt, nullTime(upd.NextSyncAt))
	if err != nil {
		return errors.Wrap(err, "update courier status")
	}
	if prev == nil || *prev != upd.CourierStatus {
		if err := insertEvent(ctx, tx, upd.OrderID, models.EventCourierStatus, &upd.CourierStatus, nil, checkedAt); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
