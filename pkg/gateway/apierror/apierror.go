// Package apierror is the JSON error envelope shared by the gateway's HTTP
// endpoints.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

type Type string

const (
	InvalidRequest Type = "invalid_request_error"
	Authentication Type = "authentication_error"
	NotFound       Type = "not_found_error"
	Overloaded     Type = "overloaded_error"
	API            Type = "api_error"
)

// StatusOverloaded is returned while the gateway drains for shutdown.
const StatusOverloaded = 529

type Error struct {
	Type      Type   `json:"type"`
	Message   string `json:"message"`
	Param     string `json:"param,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Type) + ": " + e.Message
}

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError maps err onto the envelope error and its HTTP status.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: API, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: API, Message: "request cancelled", Code: "cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(apiErr.Type)
	}
	return &Error{Type: API, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func StatusFromType(t Type) int {
	switch t {
	case InvalidRequest:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Overloaded:
		return StatusOverloaded
	default:
		return http.StatusInternalServerError
	}
}

// Write encodes err as a JSON envelope with status.
func Write(w http.ResponseWriter, status int, err *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: err})
}
