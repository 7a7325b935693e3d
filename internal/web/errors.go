package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/gochat-sync/internal/api"
	"github.com/npezzotti/gochat-sync/internal/reaction"
	"github.com/npezzotti/gochat-sync/internal/session"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newError(code int, err error) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newError(http.StatusBadRequest, nil)
}

func NewUnauthorizedError() *ApiError {
	return newError(http.StatusUnauthorized, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newError(http.StatusInternalServerError, err)
}

// fromError maps core errors onto the status the presentation layer sees.
// The message carries the reason so it can be shown to the user.
func fromError(err error) *ApiError {
	var code int
	switch {
	case errors.Is(err, api.ErrUnauthorized), errors.Is(err, session.ErrNotLoggedIn):
		code = http.StatusUnauthorized
	case errors.Is(err, session.ErrRoomNotFound), errors.Is(err, api.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrRoomFull), errors.Is(err, session.ErrNoActiveRoom):
		code = http.StatusConflict
	case errors.Is(err, session.ErrInvalidRoomName), errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, reaction.ErrInvalidKind), errors.Is(err, api.ErrBadRequest):
		code = http.StatusBadRequest
	default:
		code = http.StatusBadGateway
	}

	return &ApiError{
		StatusCode: code,
		Message:    err.Error(),
		Err:        err,
	}
}
