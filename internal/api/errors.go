package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
	"github.com/nerrad567/gray-logic-iotagent/internal/ngsi"
)

// Error represents a structured error response on non-NGSI routes.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeNotImplemented = "NOT_IMPLEMENTED"
	ErrCodeMethodNotAllow = "METHOD_NOT_ALLOWED"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// badRequestError marks a body the server could not decode.
type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

// classify returns the HTTP status and error code for a handler failure.
func classify(err error) (int, string) {
	var bad badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, ngsi.ErrHandlerNotSet):
		return http.StatusNotImplemented, ErrCodeNotImplemented
	default:
		return fault.HTTPStatus(err), fault.CodeOf(err)
	}
}

// writeLegacyError answers a v1 request with an errorCode block.
func writeLegacyError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, struct {
		ErrorCode ngsi.StatusCode `json:"errorCode"`
	}{ngsi.StatusCode{
		Code:         ngsi.Code(strconv.Itoa(status)),
		ReasonPhrase: code,
		Details:      err.Error(),
	}})
}

// writeCurrentError answers a v2 request with an error document.
func writeCurrentError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, map[string]string{
		"error":       code,
		"description": err.Error(),
	})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequestError{err}
	}
	return nil
}

// blankValues returns e with every attribute value set to "", the form the
// Broker expects in update acknowledgements.
func blankValues(e entity.Entity) entity.Entity {
	out := entity.Entity{ID: e.ID, Type: e.Type}
	for _, a := range e.Attributes {
		out.Attributes = append(out.Attributes, entity.Attribute{Name: a.Name, Type: a.Type, Value: ""})
	}
	return out
}
