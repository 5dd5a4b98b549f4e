package model

import "time"

// 受信した webhook の記録。冪等キーの台帳も兼ねる。
// Rows are append-only; PaymentID is the only column written after insert.
type PaymentWebhook struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID    string    `gorm:"type:varchar(64);not null;index" json:"transaction_id"`
	OrderID          int64     `gorm:"not null;default:0;index" json:"order_id"`
	PaymentID        *int64    `gorm:"index" json:"payment_id"`
	WebhookUniqueKey string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"webhook_unique_key"`
	HMACVerified     bool      `gorm:"column:hmac_verified;not null" json:"hmac_verified"`
	RawPayload       string    `gorm:"type:text;not null" json:"-"`
	ProcessedAt      time.Time `gorm:"not null" json:"processed_at"`
}
