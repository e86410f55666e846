package courier_api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/BoiPrint/internal/apperr"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

type errorBody struct {
	Success bool                `json:"success"`
	Code    apperr.Kind         `json:"code"`
	Message string              `json:"message"`
	Details json.RawMessage     `json:"details,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// writeError maps err to its kind's status. Errors without a kind are answered as Internal
// and their text is kept out of the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Code: apperr.KindInternal, Message: "internal error"}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Code = ae.Kind
		body.Message = ae.Message
		body.Details = ae.Details
		body.Fields = ae.Fields
	}
	status := body.Code.HTTPStatus()

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", string(body.Code),
			"request_id", middleware.GetReqID(r.Context()),
			"error", err.Error(),
		)
	}
	writeJSON(w, status, body)
}
