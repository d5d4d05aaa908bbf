package server

import (
	"github.com/labstack/echo/v4"

	"pplxchat/internal/core"
)

// RequestIDHeader carries the request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID propagates the client's X-Request-ID, or a generated one, into the
// request context and echoes it back on the response. Malformed inbound IDs
// are replaced.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			if id := core.SanitizeRequestID(req.Header.Get(RequestIDHeader)); id != "" {
				ctx = core.WithRequestID(ctx, id)
			}
			ctx, id := core.EnsureRequestID(ctx)

			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(RequestIDHeader, id)
			return next(c)
		}
	}
}
