package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// カートの明細
// UnitPrice is the price snapshot taken when the item was added; GetCart
// reconciles it against the product price.
type CartItem struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID    int64           `gorm:"not null;uniqueIndex:ux_cart_items_cart_variant" json:"cart_id"`
	ProductID int64           `gorm:"not null;index" json:"product_id"`
	VariantID int64           `gorm:"not null;uniqueIndex:ux_cart_items_cart_variant" json:"variant_id"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"unit_price"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}
