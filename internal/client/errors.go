package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a non-2xx answer from the panel server.
type APIError struct {
	StatusCode int
	Message    string
	// Detail is the raw iptables diagnostic, set on 500 responses.
	Detail string
}

// Error returns the formatted error string.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: HTTP %d: %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Is matches by status code so that callers can use errors.Is with the
// sentinels below.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	if t.StatusCode == http.StatusInternalServerError && e.StatusCode >= 500 && e.StatusCode < 600 {
		return true
	}
	return e.StatusCode == t.StatusCode
}

// Sentinel errors for the statuses the server produces.
var (
	ErrBadRequest = &APIError{StatusCode: http.StatusBadRequest, Message: "bad request"}
	ErrServer     = &APIError{StatusCode: http.StatusInternalServerError, Message: "server error"}
)

const maxErrorBody = 4096

// errorFromResponse decodes a {message, error} body into an *APIError. Bodies
// that are not JSON are kept as the message.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		apiErr.Message = payload.Message
		apiErr.Detail = payload.Error
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
