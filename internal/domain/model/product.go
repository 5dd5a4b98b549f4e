package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 価格はここから取る。カートには追加時点の値をコピーする。
type Product struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"price"`
	IsActive  bool            `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"-"`
}

// ProductVariant is one purchasable SKU. Quantity is only changed with
// conditional UPDATE statements (see VariantRepository).
type ProductVariant struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64          `gorm:"not null;index" json:"product_id"`
	Color     string         `gorm:"type:varchar(50)" json:"color"`
	Size      string         `gorm:"type:varchar(20)" json:"size"`
	Waist     int            `gorm:"not null;default:0" json:"waist"`
	Length    int            `gorm:"not null;default:0" json:"length"`
	Quantity  int64          `gorm:"not null;default:0;check:quantity >= 0" json:"quantity"`
	IsActive  bool           `gorm:"not null;default:true" json:"is_active"`
	Version   int64          `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 購入可能か
func (v ProductVariant) Sellable() bool {
	return v.IsActive && !v.DeletedAt.Valid
}
