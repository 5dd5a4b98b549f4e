package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/usecase"
)

const maxWebhookBody = 1 << 20

// 決済ゲートウェイからの通知（認証なし、HMAC で検証）
type WebhookHandler struct {
	uc *usecase.PaymentWebhookUsecase
}

func NewWebhookHandler(uc *usecase.PaymentWebhookUsecase) *WebhookHandler {
	return &WebhookHandler{uc: uc}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/paymob", h.paymob)
}

func (h *WebhookHandler) paymob(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil || len(body) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
	}

	out, err := h.uc.HandlePaymob(c.Request().Context(), body, c.QueryParam("hmac"))
	if err != nil {
		return writeError(c, err)
	}
	// duplicate / recorded も 200（再送を止める）
	return c.JSON(http.StatusOK, out)
}
