package httpapi

import (
	"encoding/json"
	"net/http"

	"inferd/internal/backend"
	"inferd/internal/broker"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps broker and backend errors onto HTTP status codes:
// unknown model 404, no provider / backend down 503, budget exhausted 507,
// unsupported operation 400, backend invocation failure 502.
func statusFor(err error) int {
	switch {
	case broker.IsModelNotFound(err):
		return http.StatusNotFound
	case broker.IsNoProvider(err), broker.IsBackendUnavailable(err):
		return http.StatusServiceUnavailable
	case broker.IsResourceExhausted(err):
		return http.StatusInsufficientStorage
	case backend.IsNotSupported(err):
		return http.StatusBadRequest
	case backend.IsRuntimeUnavailable(err):
		return http.StatusServiceUnavailable
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	if _, ok := err.(*backend.Error); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status and writes the JSON payload.
func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}
