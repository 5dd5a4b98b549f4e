package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/logger"
)

const HeaderRequestID = "X-Request-ID"

// RequestLogger attaches a request id to the request context and logs one
// line per request.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			requestID := req.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Set(logger.RequestIDKey, requestID)
			c.Response().Header().Set(HeaderRequestID, requestID)
			c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("method", req.Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.String("ip", c.RealIP()),
				zap.Duration("latency", time.Since(start)),
			}
			if c.Response().Status >= 500 {
				log.Error("request completed", fields...)
			} else {
				log.Info("request completed", fields...)
			}
			return nil
		}
	}
}
