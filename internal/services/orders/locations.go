package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/BoiPrint/internal/apperr"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/metrics"
)

type PriceQuery struct {
	CityID     int64   `json:"cityId"`
	ZoneID     int64   `json:"zoneId"`
	ItemWeight float64 `json:"itemWeight"`
}

// QuotePrice returns the courier price plan for a parcel as the courier sent it.
func (s *Service) QuotePrice(ctx context.Context, q PriceQuery) (json.RawMessage, error) {
	fields := map[string][]string{}
	if q.CityID <= 0 {
		fields["cityId"] = []string{"is required"}
	}
	if q.ZoneID <= 0 {
		fields["zoneId"] = []string{"is required"}
	}
	if len(fields) > 0 {
		return nil, apperr.New(apperr.KindValidation, "missing price fields").WithFields(fields)
	}
	if q.ItemWeight <= 0 {
		q.ItemWeight = defaultItemWeight
	}

	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	out, err := s.courier.PricePlan(ctx, tok, courier.PriceRequest{
		StoreID:      s.settings.StoreID,
		ItemType:     courier.ItemTypeParcel,
		DeliveryType: courier.DeliveryTypeNormal,
		ItemWeight:   q.ItemWeight,
		CityID:       q.CityID,
		ZoneID:       q.ZoneID,
	})
	metrics.CourierLatency.WithLabelValues("price_plan").Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, upstreamError(err, apperr.KindQuoteFailed, "delivery price calculation failed")
	}
	return out, nil
}

func (s *Service) Cities(ctx context.Context) (json.RawMessage, error) {
	return s.cachedList(ctx, "courier:cities", func(tok string) (json.RawMessage, error) {
		return s.courier.Cities(ctx, tok)
	})
}

func (s *Service) Zones(ctx context.Context, cityID int64) (json.RawMessage, error) {
	if cityID <= 0 {
		return nil, apperr.New(apperr.KindValidation, "cityId must be positive").
			WithFields(map[string][]string{"cityId": {"must be positive"}})
	}
	return s.cachedList(ctx, fmt.Sprintf("courier:zones:%d", cityID), func(tok string) (json.RawMessage, error) {
		return s.courier.Zones(ctx, tok, cityID)
	})
}

func (s *Service) Areas(ctx context.Context, zoneID int64) (json.RawMessage, error) {
	if zoneID <= 0 {
		return nil, apperr.New(apperr.KindValidation, "zoneId must be positive").
			WithFields(map[string][]string{"zoneId": {"must be positive"}})
	}
	return s.cachedList(ctx, fmt.Sprintf("courier:areas:%d", zoneID), func(tok string) (json.RawMessage, error) {
		return s.courier.Areas(ctx, tok, zoneID)
	})
}

// cachedList serves location lists from the cache when possible. Cache failures only cost a courier call.
func (s *Service) cachedList(ctx context.Context, key string, fetch func(tok string) (json.RawMessage, error)) (json.RawMessage, error) {
	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok && json.Valid(b) {
			return b, nil
		} else if err != nil {
			slog.Warn("location cache get failed", "key", key, "error", err)
		}
	}

	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	out, err := fetch(tok)
	metrics.CourierLatency.WithLabelValues("locations").Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, upstreamError(err, apperr.KindLookupFailed, "courier location lookup failed")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out, s.settings.LocationTTL); err != nil {
			slog.Warn("location cache set failed", "key", key, "error", err)
		}
	}
	return out, nil
}

func upstreamError(err error, kind apperr.Kind, msg string) error {
	e := apperr.Wrap(err, kind, msg)
	if apiErr, ok := courier.AsAPIError(err); ok {
		e.WithDetails(apiErr.Body)
		if len(apiErr.Fields) > 0 {
			e.WithFields(apiErr.Fields)
		}
	}
	return e
}
