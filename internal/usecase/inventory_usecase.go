package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/infra/queue"
	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/logger"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

// RestockPolicy decides which terminal states give reserved stock back.
// Expiry and cancellation always do.
type RestockPolicy struct {
	OnRefund bool
	OnReturn bool
}

func (p RestockPolicy) Restocks(s model.OrderStatus) bool {
	switch s {
	case model.OrderStatusPaymentExpired, model.OrderStatusCancelledByUser, model.OrderStatusCancelledByAdmin:
		return true
	case model.OrderStatusRefunded:
		return p.OnRefund
	case model.OrderStatusReturned:
		return p.OnReturn
	}
	return false
}

type InventoryUsecase struct {
	tx     repo.TransactionManager
	policy RestockPolicy
	fx     sideEffects
	now    func() time.Time
}

func NewInventoryUsecase(tx repo.TransactionManager, policy RestockPolicy, q queue.Enqueuer, log *zap.Logger) *InventoryUsecase {
	return &InventoryUsecase{
		tx:     tx,
		policy: policy,
		fx:     newSideEffects(q, log),
		now:    time.Now,
	}
}

type AdjustStockInput struct {
	Delta  int64
	Reason string
}

// tryReserve は tx 内で使う。false は在庫不足（エラーではない）
func tryReserve(ctx context.Context, r repo.TxRepos, variantID, qty int64) (bool, error) {
	n, err := r.Variants().TryAdjustQuantity(ctx, variantID, -qty, 0)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Reserve takes qty units of a variant if they are available.
func (u *InventoryUsecase) Reserve(ctx context.Context, variantID, qty int64) (bool, error) {
	if variantID <= 0 || qty <= 0 {
		return false, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}
	var ok bool
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		ok, err = tryReserve(ctx, r, variantID, qty)
		return err
	})
	if err != nil {
		return false, u.fx.result(ctx, "inventory.reserve", err)
	}
	if ok {
		u.fx.flush(ctx, invalidation(variantTags(variantID)...))
	}
	return ok, nil
}

// Release puts qty units back. Returns affected rows.
func (u *InventoryUsecase) Release(ctx context.Context, variantID, qty int64) (int64, error) {
	if variantID <= 0 || qty <= 0 {
		return 0, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}
	var n int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		n, err = r.Variants().Release(ctx, variantID, qty)
		return err
	})
	if err != nil {
		return 0, u.fx.result(ctx, "inventory.release", err)
	}
	u.fx.flush(ctx, invalidation(variantTags(variantID)...))
	return n, nil
}

func (u *InventoryUsecase) ActivateVariant(ctx context.Context, actorUserID, variantID int64) (bool, error) {
	return u.setActive(ctx, actorUserID, variantID, true)
}

func (u *InventoryUsecase) DeactivateVariant(ctx context.Context, actorUserID, variantID int64) (bool, error) {
	return u.setActive(ctx, actorUserID, variantID, false)
}

// 存在しない・削除済みは false
func (u *InventoryUsecase) setActive(ctx context.Context, actorUserID, variantID int64, active bool) (bool, error) {
	if actorUserID <= 0 {
		return false, errUnauthorized
	}
	if variantID <= 0 {
		return false, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var changed bool
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		before, err := r.Variants().FindByID(ctx, variantID)
		if err == repo.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := r.Variants().SetActive(ctx, variantID, active)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		changed = true

		return r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorUserID,
			Action:       model.AuditActionToggleVariant,
			ResourceType: model.AuditResourceVariant,
			ResourceID:   variantID,
			BeforeJSON:   toJSON(map[string]any{"is_active": before.IsActive}),
			AfterJSON:    toJSON(map[string]any{"is_active": active}),
			CreatedAt:    u.now(),
		})
	})
	if err != nil {
		return false, u.fx.result(ctx, "inventory.set_active", err)
	}
	if changed {
		u.fx.flush(ctx, invalidation(variantTags(variantID)...))
	}
	return changed, nil
}

// AdjustStock は管理者の在庫調整（差分）。結果が負になるなら 409。
func (u *InventoryUsecase) AdjustStock(ctx context.Context, actorUserID, variantID int64, in AdjustStockInput) (model.ProductVariant, error) {
	if actorUserID <= 0 {
		return model.ProductVariant{}, errUnauthorized
	}
	if variantID <= 0 {
		return model.ProductVariant{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if in.Delta == 0 {
		return model.ProductVariant{}, NewHTTPError(http.StatusBadRequest, "delta must not be 0")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" || len(reason) > 255 {
		return model.ProductVariant{}, NewHTTPError(http.StatusBadRequest, "invalid reason")
	}

	var after model.ProductVariant
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		before, err := r.Variants().FindByID(ctx, variantID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "variant not found")
		}
		if err != nil {
			return err
		}

		n, err := r.Variants().TryAdjustQuantity(ctx, variantID, in.Delta, 0)
		if err != nil {
			return err
		}
		if n == 0 {
			return NewHTTPError(http.StatusConflict, "insufficient stock")
		}

		if err := r.Variants().CreateAdjustment(ctx, model.InventoryAdjustment{
			VariantID:   variantID,
			ActorUserID: actorUserID,
			Delta:       in.Delta,
			Reason:      reason,
			CreatedAt:   u.now(),
		}); err != nil {
			return err
		}

		after, err = r.Variants().FindByID(ctx, variantID)
		if err != nil {
			return err
		}

		return r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorUserID,
			Action:       model.AuditActionUpdateStock,
			ResourceType: model.AuditResourceVariant,
			ResourceID:   variantID,
			BeforeJSON:   toJSON(map[string]any{"quantity": before.Quantity}),
			AfterJSON:    toJSON(map[string]any{"quantity": after.Quantity, "delta": in.Delta}),
			Note:         reason,
			CreatedAt:    u.now(),
		})
	})
	if err != nil {
		return model.ProductVariant{}, u.fx.result(ctx, "inventory.adjust", err)
	}
	u.fx.flush(ctx, invalidation(variantTags(variantID)...))
	return after, nil
}

// ReleaseOrderReservation returns the stock reserved by an order.
// It runs as a job and may be delivered more than once; inventory_released_at
// makes the second run a no-op.
func (u *InventoryUsecase) ReleaseOrderReservation(ctx context.Context, orderID int64) error {
	a := &afterCommit{}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err == repo.ErrNotFound {
			logger.From(ctx, u.fx.log).Warn("release skipped: order not found", zap.Int64("order_id", orderID))
			return nil
		}
		if err != nil {
			return err
		}
		if o.InventoryReleasedAt != nil || !u.policy.Restocks(o.Status) {
			return nil
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })
		released := make([]int64, 0, len(items))
		for _, it := range items {
			n, err := r.Variants().Release(ctx, it.VariantID, it.Quantity)
			if err != nil {
				return err
			}
			if n == 0 {
				// 物理削除された variant は戻し先がない
				a.alert("restock skipped", fmt.Sprintf("variant %d of order %s no longer exists", it.VariantID, o.OrderNumber))
				continue
			}
			released = append(released, it.VariantID)
		}

		if err := r.Orders().MarkInventoryReleased(ctx, orderID, u.now()); err != nil {
			return err
		}
		a.invalidate(variantTags(released...)...)
		return a.err
	})
	if err != nil {
		logger.From(ctx, u.fx.log).Error("release order reservation failed", zap.Int64("order_id", orderID), zap.Error(err))
		return err
	}
	u.fx.flush(ctx, a)
	return nil
}

func invalidation(tags ...string) *afterCommit {
	a := &afterCommit{}
	a.invalidate(tags...)
	return a
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
