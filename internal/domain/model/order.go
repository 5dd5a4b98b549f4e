package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPendingPayment   OrderStatus = "PendingPayment"
	OrderStatusConfirmed        OrderStatus = "Confirmed"
	OrderStatusProcessing       OrderStatus = "Processing"
	OrderStatusShipped          OrderStatus = "Shipped"
	OrderStatusDelivered        OrderStatus = "Delivered"
	OrderStatusComplete         OrderStatus = "Complete"
	OrderStatusPaymentExpired   OrderStatus = "PaymentExpired"
	OrderStatusCancelledByUser  OrderStatus = "CancelledByUser"
	OrderStatusCancelledByAdmin OrderStatus = "CancelledByAdmin"
	OrderStatusRefunded         OrderStatus = "Refunded"
	OrderStatusReturned         OrderStatus = "Returned"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPendingPayment: {
		OrderStatusConfirmed:        true,
		OrderStatusPaymentExpired:   true,
		OrderStatusCancelledByUser:  true,
		OrderStatusCancelledByAdmin: true,
	},
	OrderStatusConfirmed: {
		OrderStatusProcessing:       true,
		OrderStatusCancelledByUser:  true,
		OrderStatusCancelledByAdmin: true,
	},
	OrderStatusProcessing: {
		OrderStatusShipped:          true,
		OrderStatusCancelledByAdmin: true,
	},
	OrderStatusShipped: {
		OrderStatusDelivered:        true,
		OrderStatusCancelledByAdmin: true,
	},
	OrderStatusDelivered: {
		OrderStatusComplete:         true,
		OrderStatusCancelledByAdmin: true,
		OrderStatusRefunded:         true,
		OrderStatusReturned:         true,
	},
	OrderStatusComplete: {
		OrderStatusRefunded: true,
		OrderStatusReturned: true,
	},
	OrderStatusPaymentExpired:   {},
	OrderStatusCancelledByUser:  {},
	OrderStatusCancelledByAdmin: {},
	OrderStatusRefunded:         {},
	OrderStatusReturned:         {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// 遷移先がない状態
func (s OrderStatus) IsTerminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Confirmed 以降に進んでいるか（webhook の再送判定で使う）
func (s OrderStatus) PastPayment() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusComplete, OrderStatusRefunded, OrderStatusReturned:
		return true
	}
	return false
}

type Order struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64           `gorm:"not null;index" json:"user_id"`
	OrderNumber string          `gorm:"type:varchar(40);not null;uniqueIndex" json:"order_number"`
	Status      OrderStatus     `gorm:"type:varchar(30);not null;index" json:"status"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"subtotal"`
	Tax         decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"tax"`
	Shipping    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"shipping"`
	Discount    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"discount"`
	Total       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total"`
	Notes       string          `gorm:"type:text" json:"notes"`

	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	ShippedAt    *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty"`

	// 在庫戻しの二重実行防止
	InventoryReleasedAt *time.Time `json:"-"`

	Version   int64          `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Stamp sets the lifecycle timestamp that belongs to status.
func (o *Order) Stamp(status OrderStatus, at time.Time) {
	switch status {
	case OrderStatusConfirmed:
		o.ConfirmedAt = &at
	case OrderStatusProcessing:
		o.ProcessingAt = &at
	case OrderStatusShipped:
		o.ShippedAt = &at
	case OrderStatusDelivered:
		o.DeliveredAt = &at
	case OrderStatusComplete:
		o.CompletedAt = &at
	case OrderStatusPaymentExpired, OrderStatusCancelledByUser, OrderStatusCancelledByAdmin:
		o.CancelledAt = &at
	case OrderStatusRefunded:
		o.RefundedAt = &at
	case OrderStatusReturned:
		o.ReturnedAt = &at
	}
}
