package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/platform/apperr"
)

// ErrorHandler maps apperr kinds and echo HTTP errors to JSON responses.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := Render(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", requestID(c)).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

// Render returns the status and JSON body for err. The batch executor uses it
// to render failed sub-requests the same way.
func Render(err error) (int, interface{}) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := he.Message
		if s, ok := msg.(string); ok {
			msg = map[string]string{"detail": s}
		}
		return he.Code, msg
	}
	if ae, ok := apperr.As(err); ok {
		return ae.Kind.Status(), ae.Body()
	}
	return http.StatusInternalServerError, map[string]string{"detail": "server_error"}
}

func requestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
