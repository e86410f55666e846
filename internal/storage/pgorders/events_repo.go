package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) ListOrderEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.OrderEvent, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, order_id::text, kind, courier_status, message, created_at
FROM order_events
WHERE order_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := make([]*models.OrderEvent, 0)
	for rows.Next() {
		var e models.OrderEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Kind, &e.CourierStatus, &e.Message, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, orderID, kind string, courierStatus, message *string, at time.Time) error {
	_, err := tx.Exec(ctx, `
INSERT INTO order_events (order_id, kind, courier_status, message, created_at)
VALUES ($1,$2,$3,$4,$5)
`, orderID, kind, courierStatus, message, at.UTC())
	return errors.Wrap(err, "insert event")
}
