package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/handler"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/middleware"
)

type Handlers struct {
	Cart         *handler.CartHandler
	Order        *handler.OrderHandler
	AdminOrder   *handler.AdminOrderHandler
	AdminVariant *handler.AdminVariantHandler
	Webhook      *handler.WebhookHandler
}

// HealthCheck は依存先の疎通確認
type HealthCheck func(ctx context.Context) error

func RegisterRoutes(e *echo.Echo, jwtSecret string, h Handlers, health HealthCheck) {
	e.GET("/healthz", func(c echo.Context) error {
		if health != nil {
			if err := health(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, handler.ErrorResponse{Error: "unhealthy"})
			}
		}
		return c.JSON(http.StatusOK, handler.SuccessResponse{Message: "ok"})
	})

	// 認証なし（HMAC で検証）
	h.Webhook.RegisterRoutes(e)

	user := e.Group("")
	user.Use(middleware.AuthJWT(jwtSecret))
	h.Cart.RegisterRoutes(user)
	h.Order.RegisterRoutes(user)

	admin := e.Group("/admin")
	admin.Use(middleware.AuthJWT(jwtSecret))
	admin.Use(middleware.AdminRoleGuard())
	h.AdminOrder.RegisterRoutes(admin)
	h.AdminVariant.RegisterRoutes(admin)
}
