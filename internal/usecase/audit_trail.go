package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

type AuditEntryOutput struct {
	ID          int64           `json:"id"`
	ActorUserID int64           `json:"actor_user_id"`
	Action      string          `json:"action"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AuditTrailOutput struct {
	Items []AuditEntryOutput `json:"items"`
	Total int64              `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

// AuditTrailQuery はページ指定（1 始まり）
type AuditTrailQuery struct {
	Page  int
	Limit int
}

// OrderAuditTrail returns the status history of an order, oldest first.
// Webhook-driven changes carry actor 0.
func (u *OrderUsecase) OrderAuditTrail(ctx context.Context, orderID int64, q AuditTrailQuery) (AuditTrailOutput, error) {
	if orderID <= 0 {
		return AuditTrailOutput{}, NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return auditTrail(ctx, u.tx, u.fx, "order.audit", model.AuditResourceOrder, orderID, q, func(r repo.TxRepos) error {
		_, err := r.Orders().FindByID(ctx, orderID)
		if err == repo.ErrNotFound {
			return errOrderNotFound
		}
		return err
	})
}

// VariantAuditTrail returns stock adjustments and activation toggles of a variant.
func (u *InventoryUsecase) VariantAuditTrail(ctx context.Context, variantID int64, q AuditTrailQuery) (AuditTrailOutput, error) {
	if variantID <= 0 {
		return AuditTrailOutput{}, NewHTTPError(http.StatusBadRequest, "invalid variant id")
	}
	return auditTrail(ctx, u.tx, u.fx, "variant.audit", model.AuditResourceVariant, variantID, q, func(r repo.TxRepos) error {
		_, err := r.Variants().FindByID(ctx, variantID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "variant not found")
		}
		return err
	})
}

func auditTrail(
	ctx context.Context,
	tx repo.TransactionManager,
	fx sideEffects,
	op string,
	resource model.AuditResourceType,
	id int64,
	q AuditTrailQuery,
	exists func(r repo.TxRepos) error,
) (AuditTrailOutput, error) {
	if q.Page < 1 {
		return AuditTrailOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if q.Limit < 1 || q.Limit > 200 {
		return AuditTrailOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	out := AuditTrailOutput{Page: q.Page, Limit: q.Limit}
	err := tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := exists(r); err != nil {
			return err
		}
		logs, total, err := r.AuditLogs().ListByResource(ctx, repo.AuditTrailFilter{
			ResourceType: resource,
			ResourceID:   id,
			Limit:        q.Limit,
			Offset:       (q.Page - 1) * q.Limit,
		})
		if err != nil {
			return err
		}
		out.Total = total
		out.Items = make([]AuditEntryOutput, 0, len(logs))
		for _, l := range logs {
			out.Items = append(out.Items, toAuditEntry(l))
		}
		return nil
	})
	if err != nil {
		return AuditTrailOutput{}, fx.result(ctx, op, err)
	}
	return out, nil
}

func toAuditEntry(l model.AuditLog) AuditEntryOutput {
	return AuditEntryOutput{
		ID:          l.ID,
		ActorUserID: l.ActorUserID,
		Action:      string(l.Action),
		Before:      rawJSON(l.BeforeJSON),
		After:       rawJSON(l.AfterJSON),
		Note:        l.Note,
		CreatedAt:   l.CreatedAt,
	}
}

// 壊れた JSON はそのまま返さない
func rawJSON(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}
