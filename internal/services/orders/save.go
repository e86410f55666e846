package orders

import (
	"context"
	"math"
	"strings"

	"github.com/BearBump/BoiPrint/internal/apperr"
	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	orderCodePrefix   = "ORD-"
	codeAttempts      = 3
	defaultItemWeight = 0.5

	// Ceiling for the cash-on-delivery amount; larger values overflow the courier's integer field.
	maxAmountToCollect = math.MaxInt32
)

// SaveOrder validates the draft and stores it as a Pending order. The courier is not contacted.
func (s *Service) SaveOrder(ctx context.Context, d models.Draft) (*models.Order, error) {
	d = normalizeDraft(d)
	if fields := validateDraft(d); len(fields) > 0 {
		return nil, apperr.New(apperr.KindValidation, "missing or invalid order fields").WithFields(fields)
	}

	now := s.now().UTC()
	o := &models.Order{
		CustomerName:    d.CustomerName,
		CustomerPhone:   d.CustomerPhone,
		CustomerEmail:   d.CustomerEmail,
		DeliveryAddress: d.DeliveryAddress,
		CityID:          d.CityID,
		ZoneID:          d.ZoneID,
		AreaID:          d.AreaID,
		Quantity:        d.Quantity,
		ItemWeight:      d.ItemWeight,
		AmountToCollect: d.AmountToCollect,
		PaymentMethod:   d.PaymentMethod,
		ItemDescription: d.ItemDescription,
		Status:          models.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 1; ; attempt++ {
		o.ID = uuid.NewString()
		o.OrderCode = newOrderCode()
		err := s.repo.CreateOrder(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, models.ErrDuplicateCode) || attempt >= codeAttempts {
			return nil, apperr.Wrap(err, apperr.KindInternal, "save order")
		}
	}
}

func newOrderCode() string {
	return orderCodePrefix + uuid.NewString()[:8]
}

func normalizeDraft(d models.Draft) models.Draft {
	d.CustomerName = strings.TrimSpace(d.CustomerName)
	d.CustomerPhone = strings.TrimSpace(d.CustomerPhone)
	d.CustomerEmail = strings.TrimSpace(d.CustomerEmail)
	d.DeliveryAddress = strings.TrimSpace(d.DeliveryAddress)
	if d.Quantity <= 0 {
		d.Quantity = 1
	}
	if d.ItemWeight <= 0 {
		d.ItemWeight = defaultItemWeight
	}
	return d
}

// validateDraft reports every problem at once, keyed by JSON field name.
func validateDraft(d models.Draft) map[string][]string {
	fields := map[string][]string{}
	if d.CustomerName == "" {
		fields["customerName"] = []string{"is required"}
	}
	if d.CustomerPhone == "" {
		fields["customerPhone"] = []string{"is required"}
	}
	if d.DeliveryAddress == "" {
		fields["deliveryAddress"] = []string{"is required"}
	}
	if d.CityID <= 0 {
		fields["cityId"] = []string{"is required"}
	}
	if d.ZoneID <= 0 {
		fields["zoneId"] = []string{"is required"}
	}
	if d.AreaID <= 0 {
		fields["areaId"] = []string{"is required"}
	}
	switch {
	case d.AmountToCollect < 0:
		fields["amountToCollect"] = []string{"must not be negative"}
	case d.AmountToCollect > maxAmountToCollect:
		fields["amountToCollect"] = []string{"too large"}
	}
	return fields
}
