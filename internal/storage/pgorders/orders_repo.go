package pgorders

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	uniqueViolation = "23505"
)

const orderColumns = `
  id::text, order_code,
  customer_name, customer_phone, customer_email, delivery_address,
  city_id, zone_id, area_id,
  quantity, item_weight, amount_to_collect, payment_method, item_description,
  status, courier_order_id, courier_status, delivery_fee,
  merchant_order_id, dispatch_lease_until, last_dispatch_error,
  last_synced_at, next_sync_at, sync_fail_count, last_sync_error,
  created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*models.Order, error) {
	var o models.Order
	err := r.Scan(
		&o.ID, &o.OrderCode,
		&o.CustomerName, &o.CustomerPhone, &o.CustomerEmail, &o.DeliveryAddress,
		&o.CityID, &o.ZoneID, &o.AreaID,
		&o.Quantity, &o.ItemWeight, &o.AmountToCollect, &o.PaymentMethod, &o.ItemDescription,
		&o.Status, &o.CourierOrderID, &o.CourierStatus, &o.DeliveryFee,
		&o.MerchantOrderID, &o.DispatchLeaseUntil, &o.LastDispatchError,
		&o.LastSyncedAt, &o.NextSyncAt, &o.SyncFailCount, &o.LastSyncError,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO orders (
  id, order_code,
  customer_name, customer_phone, customer_email, delivery_address,
  city_id, zone_id, area_id,
  quantity, item_weight, amount_to_collect, payment_method, item_description,
  status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`, o.ID, o.OrderCode,
		o.CustomerName, o.CustomerPhone, o.CustomerEmail, o.DeliveryAddress,
		o.CityID, o.ZoneID, o.AreaID,
		o.Quantity, o.ItemWeight, o.AmountToCollect, o.PaymentMethod, o.ItemDescription,
		o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "orders_order_code_key" {
			return models.ErrDuplicateCode
		}
		return errors.Wrap(err, "insert order")
	}

	if err := insertEvent(ctx, tx, o.ID, models.EventSaved, nil, nil, o.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// GetOrder looks an order up by id or by order code. Absent orders are (nil, nil).
func (s *Storage) GetOrder(ctx context.Context, idOrCode string) (*models.Order, error) {
	q := `SELECT` + orderColumns + ` FROM orders WHERE order_code = $1`
	if _, err := uuid.Parse(idOrCode); err == nil {
		q = `SELECT` + orderColumns + ` FROM orders WHERE id = $1`
	}
	o, err := scanOrder(s.db.QueryRow(ctx, q, idOrCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

func (s *Storage) ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.Order, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	rows, err := s.db.Query(ctx, `SELECT`+orderColumns+`
FROM orders
WHERE ($1 = '' OR status = $1)
  AND ($2 = '' OR lower(customer_email) = lower($2))
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4
`, f.Status, strings.TrimSpace(f.Email), f.Limit, f.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	out := make([]*models.Order, 0, f.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) Stats(ctx context.Context) (models.OrderStats, error) {
	var st models.OrderStats
	err := s.db.QueryRow(ctx, `
SELECT
  count(*),
  count(*) FILTER (WHERE status = $1),
  count(*) FILTER (WHERE status = $2),
  COALESCE(sum(amount_to_collect), 0),
  COALESCE(sum(delivery_fee), 0)
FROM orders
`, models.OrderStatusPending, models.OrderStatusConfirmed).Scan(
		&st.TotalOrders, &st.PendingOrders, &st.ConfirmedOrders,
		&st.TotalAmountToCollect, &st.TotalDeliveryFees,
	)
	if err != nil {
		return models.OrderStats{}, errors.Wrap(err, "select stats")
	}
	return st, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
