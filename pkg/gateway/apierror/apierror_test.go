package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != API || ce.Code != "cancelled" || ce.RequestID != "req_test" {
		t.Fatalf("error=%+v", ce)
	}
}

func TestFromError_Overloaded_Is529(t *testing.T) {
	wrapped := fmt.Errorf("serve: %w", &Error{Type: Overloaded, Message: "draining"})
	ce, status := FromError(wrapped, "req_test")
	if status != 529 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != Overloaded || ce.RequestID != "req_test" {
		t.Fatalf("error=%+v", ce)
	}
}

func TestFromError_Unknown_Is500(t *testing.T) {
	ce, status := FromError(errors.New("boom"), "")
	if status != http.StatusInternalServerError || ce.Message != "internal error" {
		t.Fatalf("status=%d error=%+v", status, ce)
	}
}

func TestWrite(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, http.StatusNotFound, &Error{Type: NotFound, Message: "not found", RequestID: "req_1"})

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	var env struct {
		Error Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != NotFound || env.Error.RequestID != "req_1" {
		t.Fatalf("error=%+v", env.Error)
	}
}
