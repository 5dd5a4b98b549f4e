package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
)

type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodOther  PaymentMethod = "other"
)

type Payment struct {
	ID                    int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID               int64           `gorm:"not null;uniqueIndex:ux_payments_order_status_method" json:"order_id"`
	Status                PaymentStatus   `gorm:"type:varchar(20);not null;uniqueIndex:ux_payments_order_status_method" json:"status"`
	Method                PaymentMethod   `gorm:"type:varchar(20);not null;uniqueIndex:ux_payments_order_status_method" json:"method"`
	ProviderTransactionID string          `gorm:"type:varchar(64);index" json:"provider_transaction_id"`
	Amount                decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Version               int64           `gorm:"not null;default:1" json:"-"`
	CreatedAt             time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
