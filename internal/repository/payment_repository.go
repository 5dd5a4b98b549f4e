package repository

import (
	"context"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
)

type PaymentRepository interface {
	// 最新の支払い。無ければ ErrNotFound
	FindLatestByOrderID(ctx context.Context, orderID int64) (model.Payment, error)
	Create(ctx context.Context, p *model.Payment) error
	// version 付き更新。成功時 p.Version++
	Save(ctx context.Context, p *model.Payment) error
}

type PaymentWebhookRepository interface {
	FindByUniqueKey(ctx context.Context, key string) (model.PaymentWebhook, error)
	// webhook_unique_key 衝突は ErrDuplicate
	Create(ctx context.Context, w *model.PaymentWebhook) error
	AttachPayment(ctx context.Context, webhookID int64, paymentID int64) error
}
