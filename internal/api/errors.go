package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
)

var ErrNotFound = errors.New("not_found")

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string {
	return e.msg
}

func (e notFoundError) Unwrap() error {
	return ErrNotFound
}

func newNotFound(msg string) error {
	return notFoundError{msg: msg}
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
		},
	})
}
