package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrStaleProtocol matches a StaleProtocolError.
	ErrStaleProtocol = errors.New("304 Not Modified without a cached response")
	// ErrInvalidJSON is returned when a successful response body is not JSON.
	ErrInvalidJSON = errors.New("response is not valid JSON")
)

// RequestError is a non-2xx, non-304 response.
type RequestError struct {
	Method  string
	Path    string
	Status  int
	Code    string // the "error" field of a JSON error body
	Message string
	Body    []byte
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	status := fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	if msg == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, status, msg)
}

// StaleProtocolError means the server answered 304 to a request for which
// the client holds no cached body. Retrying sends no If-None-Match.
type StaleProtocolError struct {
	Method    string
	Path      string
	Signature string
}

func (e *StaleProtocolError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, ErrStaleProtocol)
}

func (e *StaleProtocolError) Is(target error) bool { return target == ErrStaleProtocol }

// TransportError wraps a failure to get a response at all.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

const maxErrorBody = 64 << 10

func newRequestError(method, p string, resp *http.Response) *RequestError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	re := &RequestError{Method: method, Path: p, Status: resp.StatusCode, Body: b}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &payload); err == nil && (payload.Error != "" || payload.Message != "") {
		re.Code, re.Message = payload.Error, payload.Message
		return re
	}

	text := strings.TrimSpace(string(b))
	if len(text) > 512 {
		text = text[:512] + "…"
	}
	re.Message = text
	return re
}

// IsRetryable reports whether err is worth retrying: transport failures,
// timeouts, 408, 429, 5xx, and stale 304s.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrStaleProtocol) {
		return true
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status == http.StatusRequestTimeout ||
			re.Status == http.StatusTooManyRequests ||
			re.Status >= 500
	}
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}
