package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", orderID)
}

func (r *OrderGormRepository) FindByNumber(ctx context.Context, orderNumber string) (model.Order, error) {
	return r.first(r.db.WithContext(ctx), "order_number = ?", orderNumber)
}

func (r *OrderGormRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	q := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.first(q, "id = ?", orderID)
}

func (r *OrderGormRepository) FindByNumberForUpdate(ctx context.Context, orderNumber string) (model.Order, error) {
	q := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.first(q, "order_number = ?", orderNumber)
}

func (r *OrderGormRepository) first(q *gorm.DB, cond string, arg any) (model.Order, error) {
	var o model.Order
	if err := q.Where(cond, arg).First(&o).Error; err != nil {
		return model.Order{}, translate(err)
	}
	return o, nil
}

func (r *OrderGormRepository) ExistsByNumber(ctx context.Context, orderNumber string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Unscoped().
		Model(&model.Order{}).
		Where("order_number = ?", orderNumber).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *OrderGormRepository) Create(ctx context.Context, order *model.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(order).Error)
}

func (r *OrderGormRepository) SaveStatus(ctx context.Context, order *model.Order) error {
	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]any{
			"status":        order.Status,
			"confirmed_at":  order.ConfirmedAt,
			"processing_at": order.ProcessingAt,
			"shipped_at":    order.ShippedAt,
			"delivered_at":  order.DeliveredAt,
			"completed_at":  order.CompletedAt,
			"cancelled_at":  order.CancelledAt,
			"refunded_at":   order.RefundedAt,
			"returned_at":   order.ReturnedAt,
			"version":       gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrConcurrentUpdate
	}
	order.Version++
	return nil
}

func (r *OrderGormRepository) MarkInventoryReleased(ctx context.Context, orderID int64, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND inventory_released_at IS NULL", orderID).
		Update("inventory_released_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrConcurrentUpdate
	}
	return nil
}

func (r *OrderGormRepository) List(ctx context.Context, f repo.OrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.Order{})

	//status 絞り込み
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	//user_id 絞り込み
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}

	//期間絞り込み
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (f.Page - 1) * f.Limit
	if err := q.Order("id desc").Limit(f.Limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}
