package courier_api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/BoiPrint/internal/apperr"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/session"
	"github.com/BearBump/BoiPrint/internal/models"
	"github.com/BearBump/BoiPrint/internal/services/orders"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// SessionInspector exposes the token manager state without the token itself.
type SessionInspector interface {
	Snapshot() session.Snapshot
}

type CourierAPI struct {
	svc     *orders.Service
	session SessionInspector
}

func New(svc *orders.Service, sess SessionInspector) *CourierAPI {
	return &CourierAPI{svc: svc, session: sess}
}

// Register mounts the courier and order routes on r.
func (a *CourierAPI) Register(r chi.Router) {
	r.Route("/api/courier", func(r chi.Router) {
		r.Post("/save-order", a.SaveOrder)
		r.Post("/confirm-order/{id}", a.ConfirmOrder)
		r.Post("/calculate-price", a.CalculatePrice)
		r.Get("/cities", a.Cities)
		r.Get("/zones/{cityId}", a.Zones)
		r.Get("/areas/{zoneId}", a.Areas)
		r.Get("/session", a.Session)
	})
	r.Route("/api/orders", func(r chi.Router) {
		r.Get("/", a.ListOrders)
		r.Get("/{id}", a.GetOrder)
		r.Get("/{id}/events", a.ListOrderEvents)
	})
	r.Get("/api/admin/dashboard", a.Dashboard)
}

// saveOrderRequest accepts the draft at top level or wrapped in orderData.
type saveOrderRequest struct {
	OrderData *models.Draft `json:"orderData"`
	models.Draft
}

type saveOrderResponse struct {
	Success    bool   `json:"success"`
	InsertedID string `json:"insertedId"`
	OrderCode  string `json:"orderCode"`
	Status     string `json:"status"`
}

func (a *CourierAPI) SaveOrder(w http.ResponseWriter, r *http.Request) {
	var req saveOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	draft := req.Draft
	if req.OrderData != nil {
		draft = *req.OrderData
	}

	o, err := a.svc.SaveOrder(r.Context(), draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saveOrderResponse{
		Success:    true,
		InsertedID: o.ID,
		OrderCode:  o.OrderCode,
		Status:     o.Status,
	})
}

type confirmOrderResponse struct {
	Success      bool            `json:"success"`
	Order        *models.Order   `json:"order"`
	CourierOrder json.RawMessage `json:"courierOrder"`
}

func (a *CourierAPI) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.ConfirmOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	courierOrder := res.Courier.Raw
	if len(courierOrder) == 0 {
		courierOrder, _ = json.Marshal(map[string]any{
			"consignment_id":    res.Courier.ConsignmentID,
			"merchant_order_id": res.Courier.MerchantOrderID,
			"order_status":      res.Courier.OrderStatus,
			"delivery_fee":      res.Courier.DeliveryFee,
		})
	}
	writeJSON(w, http.StatusOK, confirmOrderResponse{Success: true, Order: res.Order, CourierOrder: courierOrder})
}

func (a *CourierAPI) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	var q orders.PriceQuery
	if err := decodeBody(w, r, &q); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := a.svc.QuotePrice(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (a *CourierAPI) Cities(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Cities(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (a *CourierAPI) Zones(w http.ResponseWriter, r *http.Request) {
	cityID, err := pathID(r, "cityId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := a.svc.Zones(r.Context(), cityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (a *CourierAPI) Areas(w http.ResponseWriter, r *http.Request) {
	zoneID, err := pathID(r, "zoneId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := a.svc.Areas(r.Context(), zoneID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (a *CourierAPI) Session(w http.ResponseWriter, r *http.Request) {
	if a.session == nil {
		writeError(w, r, apperr.New(apperr.KindInternal, "token manager not wired"))
		return
	}
	writeJSON(w, http.StatusOK, a.session.Snapshot())
}

type listOrdersResponse struct {
	Success bool            `json:"success"`
	Orders  []*models.Order `json:"orders"`
}

func (a *CourierAPI) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := a.svc.ListOrders(r.Context(), models.OrderFilter{
		Status: r.URL.Query().Get("status"),
		Email:  strings.TrimSpace(r.URL.Query().Get("email")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Success: true, Orders: out})
}

type orderResponse struct {
	Success bool          `json:"success"`
	Order   *models.Order `json:"order"`
}

func (a *CourierAPI) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: o})
}

type orderEventsResponse struct {
	Success bool                 `json:"success"`
	Events  []*models.OrderEvent `json:"events"`
}

func (a *CourierAPI) ListOrderEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	evs, err := a.svc.OrderEvents(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if evs == nil {
		evs = []*models.OrderEvent{}
	}
	writeJSON(w, http.StatusOK, orderEventsResponse{Success: true, Events: evs})
}

type dashboardResponse struct {
	Success bool `json:"success"`
	models.OrderStats
}

func (a *CourierAPI) Dashboard(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{Success: true, OrderStats: st})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "request body must be a JSON object")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.Newf(apperr.KindValidation, "%s must be a positive integer", name).
			WithFields(map[string][]string{name: {"must be a positive integer"}})
	}
	return v, nil
}

func paging(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	fields := map[string][]string{}
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			fields["limit"] = []string{"must be a non-negative integer"}
		}
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			fields["offset"] = []string{"must be a non-negative integer"}
		}
	}
	if len(fields) > 0 {
		return 0, 0, apperr.New(apperr.KindValidation, "invalid paging").WithFields(fields)
	}
	return limit, offset, nil
}
