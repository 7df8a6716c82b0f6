package api

import (
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
)

var (
	// ErrUnauthorized means the access token was missing, expired or
	// rejected. The user needs to log in again.
	ErrUnauthorized = errors.New("not authorized, run `closet-tracker login`")

	// ErrNotFound means the cloth does not exist or belongs to another user.
	ErrNotFound = errors.New("cloth not found")

	// ErrEmptyBaseURL is returned by NewClient when no API URL is configured.
	ErrEmptyBaseURL = errors.New("API base URL is empty")
)

// Error is a non-2xx backend response. The backend answers errors as
// {"error": "...", "message": "...", "errorCode": "..."}.
type Error struct {
	Status    int    `json:"-"`
	Operation string `json:"-"`
	Kind      string `json:"error"`
	Message   string `json:"message"`
	Code      string `json:"errorCode,omitempty"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind
	}
	if msg == "" {
		msg = nethttp.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: status %d: %s (%s)", e.Operation, e.Status, msg, e.Code)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Operation, e.Status, msg)
}

// StatusCode returns the HTTP status.
func (e *Error) StatusCode() int { return e.Status }

// Is maps 401/403 to ErrUnauthorized and 404 to ErrNotFound.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == nethttp.StatusUnauthorized || e.Status == nethttp.StatusForbidden
	case ErrNotFound:
		return e.Status == nethttp.StatusNotFound
	}
	return false
}

// newError builds an Error from a response body. Bodies that are not the
// backend's JSON error shape become the message verbatim.
func newError(op string, status int, body []byte) *Error {
	e := &Error{Status: status, Operation: op}
	if len(body) == 0 {
		return e
	}
	if err := json.Unmarshal(body, e); err != nil || (e.Kind == "" && e.Message == "") {
		e.Kind = ""
		e.Message = truncate(strings.TrimSpace(string(body)), 200)
	}
	return e
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
