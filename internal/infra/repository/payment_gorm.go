package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

type PaymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) *PaymentGormRepository {
	return &PaymentGormRepository{db: db}
}

func (r *PaymentGormRepository) FindLatestByOrderID(ctx context.Context, orderID int64) (model.Payment, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id desc").
		First(&p).Error
	if err != nil {
		return model.Payment{}, translate(err)
	}
	return p, nil
}

func (r *PaymentGormRepository) Create(ctx context.Context, p *model.Payment) error {
	if p.Version == 0 {
		p.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *PaymentGormRepository) Save(ctx context.Context, p *model.Payment) error {
	res := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]any{
			"status":                  p.Status,
			"method":                  p.Method,
			"provider_transaction_id": p.ProviderTransactionID,
			"amount":                  p.Amount,
			"version":                 gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrConcurrentUpdate
	}
	p.Version++
	return nil
}

type PaymentWebhookGormRepository struct {
	db *gorm.DB
}

func NewPaymentWebhookGormRepository(db *gorm.DB) *PaymentWebhookGormRepository {
	return &PaymentWebhookGormRepository{db: db}
}

func (r *PaymentWebhookGormRepository) FindByUniqueKey(ctx context.Context, key string) (model.PaymentWebhook, error) {
	var w model.PaymentWebhook
	if err := r.db.WithContext(ctx).Where("webhook_unique_key = ?", key).First(&w).Error; err != nil {
		return model.PaymentWebhook{}, translate(err)
	}
	return w, nil
}

// 重複キーは ErrDuplicate
func (r *PaymentWebhookGormRepository) Create(ctx context.Context, w *model.PaymentWebhook) error {
	return translate(r.db.WithContext(ctx).Create(w).Error)
}

func (r *PaymentWebhookGormRepository) AttachPayment(ctx context.Context, webhookID int64, paymentID int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.PaymentWebhook{}).
		Where("id = ?", webhookID).
		Update("payment_id", paymentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
