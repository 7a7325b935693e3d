package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
)

// ApiError is a non-2xx response from the chat server.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"error"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = lower(http.StatusText(e.StatusCode))
	}

	if e.Err != nil {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, msg, e.Err.Error())
	}

	return fmt.Sprintf("%d %s", e.StatusCode, msg)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

// Is lets callers match on the status class with errors.Is.
func (e *ApiError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrBadRequest:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int, message string) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    message,
	}
}
