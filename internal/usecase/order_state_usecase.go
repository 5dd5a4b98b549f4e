package usecase

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/cache"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/events"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/queue"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

const maxNoteLen = 1000

// OrderStateUsecase owns every order status transition. Each transition is its
// own method because guards and side effects differ.
type OrderStateUsecase struct {
	tx     repo.TransactionManager
	policy RestockPolicy
	fx     sideEffects
	now    func() time.Time
}

func NewOrderStateUsecase(tx repo.TransactionManager, policy RestockPolicy, q queue.Enqueuer, log *zap.Logger) *OrderStateUsecase {
	return &OrderStateUsecase{
		tx:     tx,
		policy: policy,
		fx:     newSideEffects(q, log),
		now:    time.Now,
	}
}

// PendingPayment → Confirmed（管理者による手動確定）
func (u *OrderStateUsecase) ConfirmOrder(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusConfirmed, note, false)
}

func (u *OrderStateUsecase) ProcessOrder(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusProcessing, note, false)
}

func (u *OrderStateUsecase) ShipOrder(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusShipped, note, false)
}

func (u *OrderStateUsecase) DeliverOrder(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusDelivered, note, false)
}

func (u *OrderStateUsecase) CompleteOrder(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusComplete, note, false)
}

// 在庫は commit 後のジョブで戻す
func (u *OrderStateUsecase) ExpirePayment(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusPaymentExpired, note, false)
}

// 購入者本人のみ。他人の注文は 404 扱い
func (u *OrderStateUsecase) CancelOrderByCustomer(ctx context.Context, userID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, userID, orderID, model.OrderStatusCancelledByUser, note, true)
}

func (u *OrderStateUsecase) CancelOrderByAdmin(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusCancelledByAdmin, note, false)
}

func (u *OrderStateUsecase) RefundOrder(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusRefunded, note, false)
}

func (u *OrderStateUsecase) ReturnOrder(ctx context.Context, actorUserID, orderID int64, note string) (OrderOutput, error) {
	return u.transition(ctx, actorUserID, orderID, model.OrderStatusReturned, note, false)
}

func (u *OrderStateUsecase) transition(ctx context.Context, actorUserID, orderID int64, to model.OrderStatus, note string, ownerOnly bool) (OrderOutput, error) {
	if actorUserID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	note = strings.TrimSpace(note)
	if len(note) > maxNoteLen {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "note too long")
	}

	var out OrderOutput
	a := &afterCommit{}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err == repo.ErrNotFound {
			return errOrderNotFound
		}
		if err != nil {
			return err
		}
		if ownerOnly && o.UserID != actorUserID {
			return errOrderNotFound
		}

		if err := u.apply(ctx, r, &o, to, actorUserID, note, a); err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}
		out = toOrderOutput(o, items)
		return a.err
	})
	if err != nil {
		return OrderOutput{}, u.fx.result(ctx, "order.transition."+string(to), err)
	}

	u.fx.flush(ctx, a)
	return out, nil
}

// apply runs one guarded transition on an order row that the caller has locked
// inside r's transaction. Post-commit work is recorded on a.
func (u *OrderStateUsecase) apply(ctx context.Context, r repo.TxRepos, o *model.Order, to model.OrderStatus, actorUserID int64, note string, a *afterCommit) error {
	from := o.Status
	if !model.CanTransition(from, to) {
		return errf(http.StatusConflict, "cannot change order status from %s to %s", from, to)
	}

	now := u.now()
	o.Status = to
	o.Stamp(to, now)
	if err := r.Orders().SaveStatus(ctx, o); err != nil {
		return err
	}

	if err := r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actorUserID,
		Action:       model.AuditActionUpdateOrderStatus,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   o.ID,
		BeforeJSON:   toJSON(map[string]any{"status": from}),
		AfterJSON:    toJSON(map[string]any{"status": to}),
		Note:         note,
		CreatedAt:    now,
	}); err != nil {
		return err
	}

	a.invalidate(cache.TagOrder(o.ID), cache.TagOrders)
	a.orderEvent(events.OrderStatusChanged{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		From:        string(from),
		To:          string(to),
		ActorUserID: actorUserID,
		OccurredAt:  now,
	})
	if u.policy.Restocks(to) {
		a.releaseInventory(o.ID)
	}
	return nil
}
