// Package httpapi holds the JSON envelope every endpoint answers with and the
// echo error handler that renders failures in the same shape.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospadmin/hospadmin/internal/platform/apperr"
)

// Envelope is the response body shared by all endpoints.
type Envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Count      *int        `json:"count,omitempty"`
	FeedbackID *int64      `json:"feedback_id,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// List writes a 200 response carrying the item count and the items.
func List[T any](c echo.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	return c.JSON(http.StatusOK, Envelope{Success: true, Count: &n, Data: items})
}

// OK writes a success envelope with the given status.
func OK(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// ParseID parses a positive integer path parameter. Anything else is a
// validation error naming the parameter.
func ParseID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("Invalid %s", name)
	}
	return id, nil
}

// Bind decodes the request body into dst. Classified errors raised while
// decoding (for example by a field's UnmarshalJSON) are returned as they are,
// as is a 413 from a body limit tripped mid-read. Anything else becomes a
// generic validation error.
func Bind(c echo.Context, dst interface{}) error {
	err := c.Bind(dst)
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if tooLarge := findStatus(err, http.StatusRequestEntityTooLarge); tooLarge != nil {
		return tooLarge
	}
	return apperr.Validation("Invalid request body")
}

// findStatus walks err for an echo HTTP error with the given code. The
// binder wraps read failures in its own 400, so the first match is not
// enough.
func findStatus(err error, code int) *echo.HTTPError {
	for err != nil {
		var httpErr *echo.HTTPError
		if !errors.As(err, &httpErr) {
			return nil
		}
		if httpErr.Code == code {
			return httpErr
		}
		err = httpErr.Internal
	}
	return nil
}

// ErrorHandler renders errors as {success:false,message}. Application errors
// map through their Kind; echo HTTP errors keep their code; anything else is
// a 500 whose cause is logged but not returned.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := apperr.ErrInternal.Message

		var appErr *apperr.Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			status = appErr.Kind.Status()
			message = appErr.Message
		case errors.As(err, &httpErr):
			status = httpErr.Code
			if m, ok := httpErr.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(status)
			}
		}

		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, Envelope{Success: false, Message: message})
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
