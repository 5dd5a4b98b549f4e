package model

import (
	"time"

	"gorm.io/gorm"
)

// 1ユーザーにつき1つ。
// CheckoutDate is set when the customer confirms the priced cart and cleared
// on every change of contents or price.
type Cart struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64          `gorm:"not null;uniqueIndex" json:"user_id"`
	CheckoutDate *time.Time     `json:"checkout_date"`
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
