package repository

import (
	"context"

	"github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/domain/model"
)

// VariantRepository is the inventory ledger. Quantity is never written from an
// in-memory copy; every change is a single conditional UPDATE.
type VariantRepository interface {
	FindByID(ctx context.Context, variantID int64) (model.ProductVariant, error)

	// quantity = quantity + delta WHERE quantity + delta >= minResulting.
	// 0 rows means the guard failed (or the variant is gone), not an error.
	TryAdjustQuantity(ctx context.Context, variantID int64, delta int64, minResulting int64) (int64, error)

	// 在庫戻し（条件なし）
	Release(ctx context.Context, variantID int64, qty int64) (int64, error)

	// is_active の切り替え。削除済み・存在しない場合は 0 rows。
	SetActive(ctx context.Context, variantID int64, active bool) (int64, error)

	// 調整履歴作成
	CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error
}
