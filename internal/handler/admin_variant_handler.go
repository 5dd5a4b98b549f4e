package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/usecase"
)

// 在庫・公開状態の管理API
type AdminVariantHandler struct {
	uc *usecase.InventoryUsecase
}

func NewAdminVariantHandler(uc *usecase.InventoryUsecase) *AdminVariantHandler {
	return &AdminVariantHandler{uc: uc}
}

type AdjustStockRequest struct {
	Delta  int64  `json:"delta" validate:"required,ne=0"`
	Reason string `json:"reason" validate:"required,max=255"`
}

type VariantActiveResponse struct {
	VariantID int64 `json:"variant_id"`
	Changed   bool  `json:"changed"`
}

func (h *AdminVariantHandler) RegisterRoutes(admin *echo.Group) {
	admin.POST("/variants/:id/activate", h.activate)
	admin.POST("/variants/:id/deactivate", h.deactivate)
	admin.POST("/variants/:id/adjust", h.adjust)
	admin.GET("/variants/:id/audit", h.audit)
}

func (h *AdminVariantHandler) audit(c echo.Context) error {
	variantID, ok := parseIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	q, msg, ok := parseAuditQuery(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
	}

	out, err := h.uc.VariantAuditTrail(c.Request().Context(), variantID, q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminVariantHandler) activate(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *AdminVariantHandler) deactivate(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *AdminVariantHandler) setActive(c echo.Context, active bool) error {
	variantID, ok := parseIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	actorID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var (
		changed bool
		err     error
	)
	if active {
		changed, err = h.uc.ActivateVariant(c.Request().Context(), actorID, variantID)
	} else {
		changed, err = h.uc.DeactivateVariant(c.Request().Context(), actorID, variantID)
	}
	if err != nil {
		return writeError(c, err)
	}
	if !changed {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "variant not found"})
	}
	return c.JSON(http.StatusOK, VariantActiveResponse{VariantID: variantID, Changed: changed})
}

func (h *AdminVariantHandler) adjust(c echo.Context) error {
	variantID, ok := parseIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req AdjustStockRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
	}

	actorID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	v, err := h.uc.AdjustStock(c.Request().Context(), actorID, variantID, usecase.AdjustStockInput{
		Delta:  req.Delta,
		Reason: req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}
