package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/batch"
)

// statusFor maps a control-plane error to an HTTP status.
func statusFor(err error) int {
	var timeout *batch.TimeoutError
	switch {
	case errors.Is(err, batch.ErrValidation):
		return http.StatusBadRequest
	case batch.IsNotFound(err):
		return http.StatusNotFound
	case batch.IsConflict(err):
		return http.StatusConflict
	case errors.As(err, &timeout), errors.Is(err, batch.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	body := map[string]string{"error": err.Error()}
	if code := batch.Code(err); code != "" {
		body["code"] = code
	}
	if status == http.StatusBadGateway {
		s.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
