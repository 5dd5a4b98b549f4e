package repository

import (
	"context"

	"gorm.io/gorm"

	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

type txReposGorm struct {
	products        repo.ProductRepository
	variants        repo.VariantRepository
	carts           *CartGormRepository
	orders          repo.OrderRepository
	orderItems      repo.OrderItemRepository
	payments        repo.PaymentRepository
	paymentWebhooks repo.PaymentWebhookRepository
	auditLogs       repo.AuditLogRepository
}

func (r *txReposGorm) Products() repo.ProductRepository               { return r.products }
func (r *txReposGorm) Variants() repo.VariantRepository               { return r.variants }
func (r *txReposGorm) Carts() repo.CartRepository                     { return r.carts }
func (r *txReposGorm) CartItems() repo.CartItemRepository             { return r.carts }
func (r *txReposGorm) Orders() repo.OrderRepository                   { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository           { return r.orderItems }
func (r *txReposGorm) Payments() repo.PaymentRepository               { return r.payments }
func (r *txReposGorm) PaymentWebhooks() repo.PaymentWebhookRepository { return r.paymentWebhooks }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository             { return r.auditLogs }

// NewRepos は tx 外でも同じ集合を使えるようにする（読み取り専用の経路向け）
func NewRepos(db *gorm.DB) repo.TxRepos {
	return &txReposGorm{
		products:        NewProductGormRepository(db),
		variants:        NewVariantGormRepository(db),
		carts:           NewCartGormRepository(db),
		orders:          NewOrderGormRepository(db),
		orderItems:      NewOrderItemGormRepository(db),
		payments:        NewPaymentGormRepository(db),
		paymentWebhooks: NewPaymentWebhookGormRepository(db),
		auditLogs:       NewAuditLogGormRepository(db),
	}
}

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		return fn(NewRepos(tx))
	})
}
