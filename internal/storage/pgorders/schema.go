package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id UUID PRIMARY KEY,
  order_code TEXT NOT NULL UNIQUE,
  customer_name TEXT NOT NULL,
  customer_phone TEXT NOT NULL,
  customer_email TEXT NOT NULL DEFAULT '',
  delivery_address TEXT NOT NULL,
  city_id BIGINT NOT NULL,
  zone_id BIGINT NOT NULL,
  area_id BIGINT NOT NULL,
  quantity INT NOT NULL DEFAULT 1,
  item_weight DOUBLE PRECISION NOT NULL,
  amount_to_collect DOUBLE PRECISION NOT NULL DEFAULT 0,
  payment_method TEXT NOT NULL DEFAULT '',
  item_description TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  courier_order_id TEXT NULL,
  courier_status TEXT NULL,
  delivery_fee DOUBLE PRECISION NULL,
  merchant_order_id TEXT NULL,
  dispatch_lease_until TIMESTAMPTZ NULL,
  last_dispatch_error TEXT NULL,
  last_synced_at TIMESTAMPTZ NULL,
  next_sync_at TIMESTAMPTZ NULL,
  sync_fail_count INT NOT NULL DEFAULT 0,
  last_sync_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT orders_courier_fields CHECK (
    (status = 'Pending' AND courier_order_id IS NULL AND courier_status IS NULL AND delivery_fee IS NULL)
    OR
    (status = 'Confirmed' AND courier_order_id IS NOT NULL AND courier_status IS NOT NULL AND delivery_fee IS NOT NULL)
  )
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_created_at ON orders(status, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_next_sync_at ON orders(next_sync_at) WHERE next_sync_at IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_courier_order_id ON orders(courier_order_id) WHERE courier_order_id IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS order_events (
  id BIGSERIAL PRIMARY KEY,
  order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  courier_status TEXT NULL,
  message TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_order_id_created_at ON order_events(order_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
