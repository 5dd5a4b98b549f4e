package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
)

type VariantGormRepository struct {
	db *gorm.DB
}

func NewVariantGormRepository(db *gorm.DB) *VariantGormRepository {
	return &VariantGormRepository{db: db}
}

func (r *VariantGormRepository) FindByID(ctx context.Context, variantID int64) (model.ProductVariant, error) {
	var v model.ProductVariant
	if err := r.db.WithContext(ctx).First(&v, variantID).Error; err != nil {
		return model.ProductVariant{}, translate(err)
	}
	return v, nil
}

// 在庫が足りるときだけ増減する
func (r *VariantGormRepository) TryAdjustQuantity(ctx context.Context, variantID int64, delta int64, minResulting int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ProductVariant{}).
		Where("id = ? AND quantity + ? >= ?", variantID, delta, minResulting).
		Updates(map[string]any{
			"quantity": gorm.Expr("quantity + ?", delta),
			"version":  gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// 在庫戻し（キャンセル）
func (r *VariantGormRepository) Release(ctx context.Context, variantID int64, qty int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Unscoped().
		Model(&model.ProductVariant{}).
		Where("id = ?", variantID).
		Updates(map[string]any{
			"quantity": gorm.Expr("quantity + ?", qty),
			"version":  gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *VariantGormRepository) SetActive(ctx context.Context, variantID int64, active bool) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ProductVariant{}).
		Where("id = ?", variantID).
		Updates(map[string]any{
			"is_active": active,
			"version":   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// 調整履歴作成
func (r *VariantGormRepository) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	return r.db.WithContext(ctx).Create(&adj).Error
}
