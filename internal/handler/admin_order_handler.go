package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/usecase"
)

type AdminOrderHandler struct {
	orders *usecase.OrderUsecase
	states *usecase.OrderStateUsecase
}

func NewAdminOrderHandler(orders *usecase.OrderUsecase, states *usecase.OrderStateUsecase) *AdminOrderHandler {
	return &AdminOrderHandler{orders: orders, states: states}
}

type transitionFunc func(ctx context.Context, actorUserID, orderID int64, note string) (usecase.OrderOutput, error)

// admin グループ（AuthJWT + AdminRoleGuard 済み）に登録
func (h *AdminOrderHandler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/orders", h.list)
	admin.GET("/orders/:id", h.get)
	admin.GET("/orders/:id/audit", h.audit)

	transitions := map[string]transitionFunc{
		"confirm":  h.states.ConfirmOrder,
		"process":  h.states.ProcessOrder,
		"ship":     h.states.ShipOrder,
		"deliver":  h.states.DeliverOrder,
		"complete": h.states.CompleteOrder,
		"refund":   h.states.RefundOrder,
		"return":   h.states.ReturnOrder,
		"expire":   h.states.ExpirePayment,
		"cancel":   h.states.CancelOrderByAdmin,
	}
	for action, fn := range transitions {
		admin.POST("/orders/:id/"+action, h.transition(fn))
	}
}

func (h *AdminOrderHandler) list(c echo.Context) error {
	f, msg, ok := parseOrderListQuery(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
	}

	out, err := h.orders.ListAdmin(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) get(c echo.Context) error {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.orders.GetOrder(c.Request().Context(), orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) audit(c echo.Context) error {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	q, msg, ok := parseAuditQuery(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
	}

	out, err := h.orders.OrderAuditTrail(c.Request().Context(), orderID, q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ?page=&limit= （既定 1 / 50）
func parseAuditQuery(c echo.Context) (usecase.AuditTrailQuery, string, bool) {
	q := usecase.AuditTrailQuery{Page: 1, Limit: 50}
	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return q, "invalid page", false
		}
		q.Page = p
	}
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return q, "invalid limit", false
		}
		q.Limit = l
	}
	return q, "", true
}

func (h *AdminOrderHandler) transition(fn transitionFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		orderID, ok := parseIDParam(c, "id")
		if !ok {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		}

		var req NoteRequest
		if msg, ok := bindAndValidate(c, &req); !ok {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
		}

		actorID, ok := getUserIDFromContext(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		}

		out, err := fn(c.Request().Context(), actorID, orderID, req.Note)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, out)
	}
}
