// Package memorders is an in-process order store used when no database is configured.
package memorders

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/BoiPrint/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Storage struct {
	mu      sync.Mutex
	byID    map[string]*models.Order
	byCode  map[string]string
	events  map[string][]*models.OrderEvent
	eventID int64
	now     func() time.Time
}

func New() *Storage {
	return &Storage{
		byID:   map[string]*models.Order{},
		byCode: map[string]string{},
		events: map[string][]*models.OrderEvent{},
		now:    time.Now,
	}
}

func (s *Storage) Ping(ctx context.Context) error { return nil }

func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[o.OrderCode]; ok {
		return models.ErrDuplicateCode
	}
	c := clone(o)
	s.byID[c.ID] = c
	s.byCode[c.OrderCode] = c.ID
	s.addEventLocked(c.ID, models.EventSaved, nil, nil, c.CreatedAt)
	return nil
}

func (s *Storage) GetOrder(ctx context.Context, idOrCode string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.lookupLocked(idOrCode); o != nil {
		return clone(o), nil
	}
	return nil, nil
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

	s.mu.Lock()
	all := make([]*models.Order, 0, len(s.byID))
	for _, o := range s.byID {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Email != "" && !strings.EqualFold(o.CustomerEmail, f.Email) {
			continue
		}
		all = append(all, clone(o))
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if f.Offset >= len(all) {
		return []*models.Order{}, nil
	}
	all = all[f.Offset:]
	if len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

func (s *Storage) BeginDispatch(ctx context.Context, id, ref string, now time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.byID[id]
	if o == nil || o.Status != models.OrderStatusPending {
		return false, nil
	}
	if o.DispatchLeaseUntil != nil && o.DispatchLeaseUntil.After(now) {
		return false, nil
	}
	until := now.UTC().Add(lease)
	o.MerchantOrderID = &ref
	o.DispatchLeaseUntil = &until
	o.UpdatedAt = now.UTC()
	s.addEventLocked(id, models.EventDispatchStarted, nil, &ref, now)
	return true, nil
}

func (s *Storage) AbortDispatch(ctx context.Context, id, ref, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.byID[id]
	if o == nil || o.Status != models.OrderStatusPending || o.MerchantOrderID == nil || *o.MerchantOrderID != ref {
		return nil
	}
	o.DispatchLeaseUntil = nil
	o.LastDispatchError = strPtr(errMsg)
	o.UpdatedAt = s.now().UTC()
	s.addEventLocked(id, models.EventDispatchFailed, nil, strPtr(errMsg), o.UpdatedAt)
	return nil
}

func (s *Storage) MarkConfirmed(ctx context.Context, id, ref string, c models.Confirmation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.byID[id]
	if o == nil || o.Status != models.OrderStatusPending || o.MerchantOrderID == nil || *o.MerchantOrderID != ref {
		return false, nil
	}
	courierID, courierStatus, fee := c.CourierOrderID, c.CourierStatus, c.DeliveryFee
	o.Status = models.OrderStatusConfirmed
	o.CourierOrderID = &courierID
	o.CourierStatus = &courierStatus
	o.DeliveryFee = &fee
	o.DispatchLeaseUntil = nil
	o.LastDispatchError = nil
	o.NextSyncAt = timePtr(c.NextSyncAt)
	o.SyncFailCount = 0
	o.UpdatedAt = c.ConfirmedAt.UTC()
	s.addEventLocked(id, models.EventConfirmed, &courierStatus, &courierID, c.ConfirmedAt)
	return true, nil
}

func (s *Storage) ApplyCourierStatus(ctx context.Context, upd models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.byID[upd.OrderID]
	if o == nil || o.Status != models.OrderStatusConfirmed {
		return nil
	}
	checked := upd.CheckedAt.UTC()
	o.LastSyncedAt = &checked
	o.NextSyncAt = timePtr(upd.NextSyncAt)
	o.UpdatedAt = checked
	if upd.Error != nil {
		msg := *upd.Error
		o.SyncFailCount++
		o.LastSyncError = &msg
		s.addEventLocked(o.ID, models.EventSyncFailed, nil, &msg, checked)
		return nil
	}
	o.SyncFailCount = 0
	o.LastSyncError = nil
	if o.CourierStatus == nil || *o.CourierStatus != upd.CourierStatus {
		st := upd.CourierStatus
		o.CourierStatus = &st
		s.addEventLocked(o.ID, models.EventCourierStatus, &st, nil, checked)
	}
	return nil
}

func (s *Storage) ClaimDueSyncs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Order
	for _, o := range s.byID {
		if o.Status != models.OrderStatusConfirmed || o.NextSyncAt == nil || o.NextSyncAt.After(now) {
			continue
		}
		if o.CourierStatus != nil && models.IsFinalCourierStatus(*o.CourierStatus) {
			continue
		}
		due = append(due, o)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextSyncAt.Before(*due[j].NextSyncAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.UTC().Add(lease)
	out := make([]*models.Order, 0, len(due))
	for _, o := range due {
		u := until
		o.NextSyncAt = &u
		out = append(out, clone(o))
	}
	return out, nil
}

func (s *Storage) Stats(ctx context.Context) (models.OrderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st models.OrderStats
	for _, o := range s.byID {
		st.TotalOrders++
		switch o.Status {
		case models.OrderStatusPending:
			st.PendingOrders++
		case models.OrderStatusConfirmed:
			st.ConfirmedOrders++
		}
		st.TotalAmountToCollect += o.AmountToCollect
		if o.DeliveryFee != nil {
			st.TotalDeliveryFees += *o.DeliveryFee
		}
	}
	return st, nil
}

func (s *Storage) ListOrderEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.OrderEvent, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	evs := s.events[orderID]
	out := make([]*models.OrderEvent, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		e := *evs[i]
		out = append(out, &e)
	}
	if offset >= len(out) {
		return []*models.OrderEvent{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Storage) lookupLocked(idOrCode string) *models.Order {
	if o, ok := s.byID[idOrCode]; ok {
		return o
	}
	if id, ok := s.byCode[idOrCode]; ok {
		return s.byID[id]
	}
	return nil
}

func (s *Storage) addEventLocked(orderID, kind string, courierStatus, message *string, at time.Time) {
	s.eventID++
	s.events[orderID] = append(s.events[orderID], &models.OrderEvent{
		ID:            s.eventID,
		OrderID:       orderID,
		Kind:          kind,
		CourierStatus: copyStr(courierStatus),
		Message:       copyStr(message),
		CreatedAt:     at.UTC(),
	})
}

func clone(o *models.Order) *models.Order {
	c := *o
	c.CourierOrderID = copyStr(o.CourierOrderID)
	c.CourierStatus = copyStr(o.CourierStatus)
	c.MerchantOrderID = copyStr(o.MerchantOrderID)
	c.LastDispatchError = copyStr(o.LastDispatchError)
	c.LastSyncError = copyStr(o.LastSyncError)
	if o.DeliveryFee != nil {
		f := *o.DeliveryFee
		c.DeliveryFee = &f
	}
	c.DispatchLeaseUntil = copyTime(o.DispatchLeaseUntil)
	c.LastSyncedAt = copyTime(o.LastSyncedAt)
	c.NextSyncAt = copyTime(o.NextSyncAt)
	return &c
}

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
