// Package apperr defines the error kinds surfaced at the HTTP boundary.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindAuthUnavailable  Kind = "AuthUnavailable"
	KindDispatchFailed   Kind = "DispatchFailed"
	KindQuoteFailed      Kind = "QuoteFailed"
	KindLookupFailed     Kind = "LookupFailed"
	KindGatewayTimeout   Kind = "GatewayTimeout"
	KindNotFound         Kind = "NotFound"
	KindConflict         Kind = "Conflict"
	KindReconcilePending Kind = "ReconcilePending"
	KindInternal         Kind = "Internal"
)

// HTTPStatus maps a kind to the response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindAuthUnavailable:
		return http.StatusServiceUnavailable
	case KindDispatchFailed, KindQuoteFailed, KindLookupFailed:
		return http.StatusBadGateway
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	// Fields holds field-level problems, either from local validation or from the courier.
	Fields  map[string][]string
	Details json.RawMessage

	cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: err}
}

func (e *Error) WithFields(fields map[string][]string) *Error {
	e.Fields = fields
	return e
}

func (e *Error) WithDetails(details json.RawMessage) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// FieldNames returns the sorted keys of Fields.
func (e *Error) FieldNames() []string {
	out := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
