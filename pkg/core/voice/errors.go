// Package voice holds what the speech adapters share: the transient vendor
// error the call pipeline retries on.
package voice

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TransientError is a vendor failure worth one retry: a dropped websocket,
// a 5xx from the handshake, a stream that died mid-utterance.
type TransientError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Op + ": transient vendor error"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error wrapping.
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// DialError classifies a failed websocket handshake. Network failures, 429
// and 5xx responses are transient; anything else (bad key, bad params) is not.
func DialError(op string, resp *http.Response, err error) error {
	if resp == nil {
		return Transient(op, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Errorf("status %d: %w", resp.StatusCode, err)
	if msg := strings.TrimSpace(string(body)); msg != "" {
		detail = fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Transient(op, detail)
	}
	return fmt.Errorf("%s: %w", op, detail)
}
