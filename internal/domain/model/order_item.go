package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文時点のスナップショット。作成後は変更しない。
type OrderItem struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    int64           `gorm:"not null;index" json:"order_id"`
	ProductID  int64           `gorm:"not null;index" json:"product_id"`
	VariantID  int64           `gorm:"not null;index" json:"variant_id"`
	Quantity   int64           `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"unit_price"`
	TotalPrice decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_price"`
	OrderedAt  time.Time       `gorm:"not null" json:"ordered_at"`
}
