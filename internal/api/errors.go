package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrMissingDependency is returned by New when a required dependency is nil.
	ErrMissingDependency = errors.New("api: missing dependency")

	// ErrListenFailed is returned by Start when the address cannot be bound.
	ErrListenFailed = errors.New("api: listen failed")
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable codes carried in Error.Code.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
)

var errorCodes = map[int]string{
	http.StatusBadRequest:       ErrCodeBadRequest,
	http.StatusNotFound:         ErrCodeNotFound,
	http.StatusMethodNotAllowed: ErrCodeMethodNotAllowed,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes an Error whose code follows from status. Unmapped
// statuses are reported as internal errors.
func writeError(w http.ResponseWriter, status int, message string) {
	code, ok := errorCodes[status]
	if !ok {
		code = ErrCodeInternal
	}
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}
